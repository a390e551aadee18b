// Package auth は登録・ログイン・トークン更新のドメインロジックを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/credential"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/password"
	"github.com/hitoshi/authgate/internal/repository"
)

// CredentialIssuer は資格情報Cookieの発行インターフェース。
// credential.Issuerの部分集合として定義する。
type CredentialIssuer interface {
	Issue(user *model.User, withRefresh bool) (*credential.Issued, error)
}

// PasswordGate はパスワードのハッシュ化と照合のインターフェース。
// password.Gateの部分集合として定義する。
type PasswordGate interface {
	Hash(ctx context.Context, plaintext string, parallelism uint8) (string, error)
	Verify(ctx context.Context, encodedHash, plaintext string, parallelism uint8) (bool, error)
}

// Service は認証のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	gate        PasswordGate
	issuer      CredentialIssuer
	collector   metrics.MetricsCollector
	parallelism uint8
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	gate PasswordGate,
	issuer CredentialIssuer,
	collector metrics.MetricsCollector,
	parallelism uint8,
) *Service {
	return &Service{
		userRepo:    userRepo,
		gate:        gate,
		issuer:      issuer,
		collector:   collector,
		parallelism: parallelism,
	}
}

// Register は新規ユーザーを登録し、資格情報Cookieを発行する。
//
// 重複の事前チェックは高コストなハッシュ計算を省くための最適化であり、
// 正しさの根拠は挿入時の一意性制約違反（リポジトリがフィールド別の
// Conflictへ写像する）に置く。並行登録が事前チェックをすり抜けても
// 結果は同じConflictになる。
func (s *Service) Register(ctx context.Context, username, email, plaintext string) (*model.User, *credential.Issued, error) {
	// 事前チェック: メール → ユーザー名の順
	count, err := s.userRepo.CountByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count users by email: %w", err)
	}
	if count > 0 {
		return nil, nil, model.NewConflictError(model.MsgEmailExists)
	}

	count, err = s.userRepo.CountByUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count users by username: %w", err)
	}
	if count > 0 {
		return nil, nil, model.NewConflictError(model.MsgUsernameExists)
	}

	hashStart := time.Now()
	hash, err := s.gate.Hash(ctx, plaintext, s.parallelism)
	if err != nil {
		if errors.Is(err, password.ErrTimeout) {
			return nil, nil, model.NewUnavailableError(err)
		}
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}
	s.collector.RecordHashLatency(time.Since(hashStart))

	created, err := s.userRepo.Insert(ctx, &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		// 一意性制約違反はそのままConflictとして伝播する
		return nil, nil, err
	}

	issued, err := s.issuer.Issue(created, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue credentials: %w", err)
	}
	s.collector.RecordTokenIssued(metrics.KindSession)
	s.collector.RecordTokenIssued(metrics.KindRefresh)

	slog.Info("new user registered",
		slog.Int64("user_id", created.ID),
		slog.String("username", created.Username),
	)

	return created, issued, nil
}

// Login はメールアドレスとパスワードを照合し、資格情報Cookieを発行する。
// ユーザー不在とパスワード不一致は別のメッセージで返すが、
// どちらも401として扱う。
func (s *Service) Login(ctx context.Context, email, plaintext string) (*model.User, *credential.Issued, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		s.collector.RecordLoginFailure()
		return nil, nil, model.NewAuthenticationError(model.MsgInvalidEmail, nil)
	}

	hashStart := time.Now()
	match, err := s.gate.Verify(ctx, user.PasswordHash, plaintext, s.parallelism)
	if err != nil {
		if errors.Is(err, password.ErrTimeout) {
			return nil, nil, model.NewUnavailableError(err)
		}
		return nil, nil, fmt.Errorf("failed to verify password: %w", err)
	}
	s.collector.RecordHashLatency(time.Since(hashStart))

	if !match {
		s.collector.RecordLoginFailure()
		slog.Warn("login failed: password mismatch",
			slog.Int64("user_id", user.ID),
		)
		return nil, nil, model.NewAuthenticationError(model.MsgInvalidPassword, nil)
	}

	issued, err := s.issuer.Issue(user, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue credentials: %w", err)
	}
	s.collector.RecordTokenIssued(metrics.KindSession)
	s.collector.RecordTokenIssued(metrics.KindRefresh)

	slog.Info("user logged in", slog.Int64("user_id", user.ID))

	return user, issued, nil
}

// Refresh は検証済みリフレッシュトークンのユーザーIDから資格情報を再発行する。
// トークンが暗号的に正当でも、参照先ユーザーが既に存在しない場合は
// 403として拒否する。プロフィールは必ず永続化層から再取得する。
func (s *Service) Refresh(ctx context.Context, userID int64) (*model.User, *credential.Issued, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	if user == nil {
		slog.Warn("refresh rejected: user no longer exists",
			slog.Int64("user_id", userID),
		)
		return nil, nil, model.NewForbiddenError(model.MsgUserGone)
	}

	issued, err := s.issuer.Issue(user, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue credentials: %w", err)
	}
	s.collector.RecordTokenIssued(metrics.KindSession)
	s.collector.RecordTokenIssued(metrics.KindRefresh)

	return user, issued, nil
}
