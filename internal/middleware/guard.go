// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/credential"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey は認証済みユーザービューを格納するためのキー。
var principalContextKey = contextKey("principal")

// refreshUserIDContextKey はリフレッシュトークンのユーザーIDを格納するためのキー。
var refreshUserIDContextKey = contextKey("refresh_user_id")

// SessionVerifier はセッショントークン検証に必要なインターフェース。
// token.Verifierの部分集合として定義する。
type SessionVerifier interface {
	VerifySession(tokenStr string) (*token.SessionResult, error)
}

// RefreshVerifier はリフレッシュトークン検証に必要なインターフェース。
type RefreshVerifier interface {
	VerifyRefresh(tokenStr string) (*token.RefreshResult, error)
}

// SessionReissuer は鍵ローテーション後の再発行に必要なインターフェース。
// credential.Issuerの部分集合として定義する。
type SessionReissuer interface {
	Issue(user *model.User, withRefresh bool) (*credential.Issued, error)
}

// NewSessionGuard はセッションCookieを検証するミドルウェアを返す。
// 検証済みのユーザービューをリクエストコンテキストに注入する。
// 旧鍵で署名されたトークンが検証を通った場合は、現行鍵で
// セッションCookieを再発行してからハンドラーへ進む。
//
// 失敗は段階ごとに固定メッセージへ写像する:
// Cookieなし、トランスポート署名不一致、クレーム署名/内容の不一致。
// 鍵照合の内部詳細はログにのみ記録する。
func NewSessionGuard(verifier SessionVerifier, issuer SessionReissuer, cookieSecret []byte, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからセッショントークンを取得
			cookie, err := r.Cookie(credential.SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.MsgSessionRequired)
				return
			}

			// 2. トランスポート署名を検証
			tokenStr, ok := credential.UnsignCookieValue(cookieSecret, cookie.Value)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.MsgInvalidSessionCookie)
				return
			}

			// 3. クレーム署名と内容を検証
			result, err := verifier.VerifySession(tokenStr)
			if err != nil {
				collector.RecordVerification(metrics.KindSession, verifyOutcome(err))
				slog.Warn("session token verification failed",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.MsgInvalidSessionToken)
				return
			}
			collector.RecordVerification(metrics.KindSession, metrics.OutcomeOK)

			// 4. 旧鍵署名の場合は現行鍵で再発行
			if result.Renew {
				reissueSession(w, issuer, result.Claims.User, collector)
			}

			// 5. 検証済みユーザービューをコンテキストに注入
			ctx := ContextWithPrincipal(r.Context(), result.Claims.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRefreshGuard はリフレッシュCookieを検証するミドルウェアを返す。
// クレームはユーザーIDしか運ばないため、コンテキストにはIDのみ注入し、
// プロフィールの再解決はハンドラー側に委ねる。
func NewRefreshGuard(verifier RefreshVerifier, cookieSecret []byte, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(credential.RefreshCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.MsgSessionRequired)
				return
			}

			tokenStr, ok := credential.UnsignCookieValue(cookieSecret, cookie.Value)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.MsgInvalidSessionCookie)
				return
			}

			result, err := verifier.VerifyRefresh(tokenStr)
			if err != nil {
				collector.RecordVerification(metrics.KindRefresh, verifyOutcome(err))
				slog.Warn("refresh token verification failed",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.MsgInvalidRefreshToken)
				return
			}
			collector.RecordVerification(metrics.KindRefresh, metrics.OutcomeOK)

			ctx := ContextWithRefreshUserID(r.Context(), result.Claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// reissueSession は検証済みビューから現行鍵でセッションCookieを再発行する。
// 再発行の失敗はリクエスト自体を失敗させず、ログに記録して続行する。
func reissueSession(w http.ResponseWriter, issuer SessionReissuer, principal token.Principal, collector metrics.MetricsCollector) {
	user := &model.User{
		ID:       principal.ID,
		Username: principal.Username,
		Email:    principal.Email,
		Bio:      principal.Bio,
		Image:    principal.Image,
	}
	issued, err := issuer.Issue(user, false)
	if err != nil {
		slog.Error("failed to reissue session token",
			slog.Int64("user_id", principal.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	issued.Apply(w)
	collector.RecordRenewal()
	slog.Info("session token reissued with current key",
		slog.Int64("user_id", principal.ID),
	)
}

// verifyOutcome は検証エラーをメトリクスの結果ラベルへ写像する。
func verifyOutcome(err error) string {
	if errors.Is(err, token.ErrInvalidToken) {
		return metrics.OutcomeSignature
	}
	return metrics.OutcomeClaim
}

// PrincipalFromContext はリクエストコンテキストから認証済みユーザービューを取得する。
// セッションガードを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (token.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(token.Principal)
	if !ok || principal.ID == 0 {
		return token.Principal{}, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストに認証済みユーザービューを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal token.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// RefreshUserIDFromContext はリフレッシュガードが注入したユーザーIDを取得する。
func RefreshUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(refreshUserIDContextKey).(int64)
	if !ok || userID == 0 {
		return 0, fmt.Errorf("refresh user ID not found in context")
	}
	return userID, nil
}

// ContextWithRefreshUserID はコンテキストにリフレッシュ対象のユーザーIDを注入する。
func ContextWithRefreshUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, refreshUserIDContextKey, userID)
}
