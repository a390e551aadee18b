package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/authgate/internal/credential"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/password"
	"github.com/hitoshi/authgate/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByEmailFn     func(ctx context.Context, email string) (*model.User, error)
	findByIDFn        func(ctx context.Context, id int64) (*model.User, error)
	countByEmailFn    func(ctx context.Context, email string) (int, error)
	countByUsernameFn func(ctx context.Context, username string) (int, error)
	insertFn          func(ctx context.Context, user *model.User) (*model.User, error)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) CountByEmail(ctx context.Context, email string) (int, error) {
	if m.countByEmailFn != nil {
		return m.countByEmailFn(ctx, email)
	}
	return 0, nil
}

func (m *mockUserRepo) CountByUsername(ctx context.Context, username string) (int, error) {
	if m.countByUsernameFn != nil {
		return m.countByUsernameFn(ctx, username)
	}
	return 0, nil
}

func (m *mockUserRepo) Insert(ctx context.Context, user *model.User) (*model.User, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, user)
	}
	created := *user
	created.ID = 1
	return &created, nil
}

type mockGate struct {
	hashFn   func(ctx context.Context, plaintext string, parallelism uint8) (string, error)
	verifyFn func(ctx context.Context, encodedHash, plaintext string, parallelism uint8) (bool, error)
}

func (m *mockGate) Hash(ctx context.Context, plaintext string, parallelism uint8) (string, error) {
	if m.hashFn != nil {
		return m.hashFn(ctx, plaintext, parallelism)
	}
	return "hashed:" + plaintext, nil
}

func (m *mockGate) Verify(ctx context.Context, encodedHash, plaintext string, parallelism uint8) (bool, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, encodedHash, plaintext, parallelism)
	}
	return encodedHash == "hashed:"+plaintext, nil
}

type mockIssuer struct {
	issueFn func(user *model.User, withRefresh bool) (*credential.Issued, error)
}

func (m *mockIssuer) Issue(user *model.User, withRefresh bool) (*credential.Issued, error) {
	if m.issueFn != nil {
		return m.issueFn(user, withRefresh)
	}
	return &credential.Issued{
		Session: &http.Cookie{Name: credential.SessionCookieName},
		Refresh: &http.Cookie{Name: credential.RefreshCookieName},
	}, nil
}

type mockCollector struct {
	issued        map[string]int
	loginFailures int
}

func newMockCollector() *mockCollector {
	return &mockCollector{issued: make(map[string]int)}
}

func (m *mockCollector) RecordTokenIssued(kind string)            { m.issued[kind]++ }
func (m *mockCollector) RecordVerification(kind, outcome string)  {}
func (m *mockCollector) RecordRenewal()                           {}
func (m *mockCollector) RecordHashLatency(duration time.Duration) {}
func (m *mockCollector) RecordLoginFailure()                      { m.loginFailures++ }

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ PasswordGate = (*mockGate)(nil)
var _ CredentialIssuer = (*mockIssuer)(nil)
var _ metrics.MetricsCollector = (*mockCollector)(nil)

func newTestService(repo *mockUserRepo, gate *mockGate, issuer *mockIssuer, collector *mockCollector) *Service {
	return NewService(repo, gate, issuer, collector, 1)
}

func appErrorFrom(t *testing.T, err error) *model.AppError {
	t.Helper()
	var appErr *model.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error = %v, want *model.AppError", err)
	}
	return appErr
}

// --- 登録 ---

// 登録成功でハッシュ済みパスワードが保存され、両トークンが発行されることを検証
func TestRegister_Success_StoresHashAndIssuesCredentials(t *testing.T) {
	ctx := context.Background()

	var inserted *model.User
	repo := &mockUserRepo{
		insertFn: func(ctx context.Context, user *model.User) (*model.User, error) {
			inserted = user
			created := *user
			created.ID = 7
			return &created, nil
		},
	}
	collector := newMockCollector()
	svc := newTestService(repo, &mockGate{}, &mockIssuer{}, collector)

	user, issued, err := svc.Register(ctx, "alice", "alice@example.com", "plaintext-password")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if user.ID != 7 {
		t.Errorf("user.ID = %d, want 7", user.ID)
	}
	if inserted.PasswordHash == "plaintext-password" {
		t.Error("plaintext password stored without hashing")
	}
	if inserted.PasswordHash != "hashed:plaintext-password" {
		t.Errorf("stored hash = %q, want gate output", inserted.PasswordHash)
	}
	if issued.Session == nil || issued.Refresh == nil {
		t.Error("expected both session and refresh cookies")
	}
	if collector.issued[metrics.KindSession] != 1 || collector.issued[metrics.KindRefresh] != 1 {
		t.Errorf("issued = %v, want one of each kind", collector.issued)
	}
}

// メール重複の事前チェックが422 Conflictになることを検証
func TestRegister_DuplicateEmail_ReturnsConflict(t *testing.T) {
	repo := &mockUserRepo{
		countByEmailFn: func(ctx context.Context, email string) (int, error) {
			return 1, nil
		},
	}
	hashCalled := false
	gate := &mockGate{
		hashFn: func(ctx context.Context, plaintext string, parallelism uint8) (string, error) {
			hashCalled = true
			return "", nil
		},
	}
	svc := newTestService(repo, gate, &mockIssuer{}, newMockCollector())

	_, _, err := svc.Register(context.Background(), "alice", "taken@example.com", "password")

	appErr := appErrorFrom(t, err)
	if appErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", appErr.Status, http.StatusUnprocessableEntity)
	}
	if appErr.Message != model.MsgEmailExists {
		t.Errorf("message = %q, want %q", appErr.Message, model.MsgEmailExists)
	}
	// 重複が分かっている場合は高コストなハッシュ計算を省く
	if hashCalled {
		t.Error("hash must not run when email is already taken")
	}
}

// ユーザー名重複の事前チェックが422 Conflictになることを検証
func TestRegister_DuplicateUsername_ReturnsConflict(t *testing.T) {
	repo := &mockUserRepo{
		countByUsernameFn: func(ctx context.Context, username string) (int, error) {
			return 1, nil
		},
	}
	svc := newTestService(repo, &mockGate{}, &mockIssuer{}, newMockCollector())

	_, _, err := svc.Register(context.Background(), "taken", "alice@example.com", "password")

	appErr := appErrorFrom(t, err)
	if appErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", appErr.Status, http.StatusUnprocessableEntity)
	}
	if appErr.Message != model.MsgUsernameExists {
		t.Errorf("message = %q, want %q", appErr.Message, model.MsgUsernameExists)
	}
}

// 挿入時の一意性制約違反（並行登録）がそのままConflictで伝播することを検証
func TestRegister_InsertConflict_Passthrough(t *testing.T) {
	repo := &mockUserRepo{
		insertFn: func(ctx context.Context, user *model.User) (*model.User, error) {
			return nil, model.NewConflictError(model.MsgUsernameExists)
		},
	}
	svc := newTestService(repo, &mockGate{}, &mockIssuer{}, newMockCollector())

	_, _, err := svc.Register(context.Background(), "alice", "alice@example.com", "password")

	appErr := appErrorFrom(t, err)
	if appErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", appErr.Status, http.StatusUnprocessableEntity)
	}
	if appErr.Message != model.MsgUsernameExists {
		t.Errorf("message = %q, want %q", appErr.Message, model.MsgUsernameExists)
	}
}

// ハッシュ計算のタイムアウトが503（リトライ可能）になることを検証
func TestRegister_HashTimeout_ReturnsUnavailable(t *testing.T) {
	gate := &mockGate{
		hashFn: func(ctx context.Context, plaintext string, parallelism uint8) (string, error) {
			return "", fmt.Errorf("%w: context deadline exceeded", password.ErrTimeout)
		},
	}
	svc := newTestService(&mockUserRepo{}, gate, &mockIssuer{}, newMockCollector())

	_, _, err := svc.Register(context.Background(), "alice", "alice@example.com", "password")

	appErr := appErrorFrom(t, err)
	if appErr.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", appErr.Status, http.StatusServiceUnavailable)
	}
}

// --- ログイン ---

// ログイン成功で両トークンが発行されることを検証
func TestLogin_Success_IssuesCredentials(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{
				ID:           7,
				Username:     "alice",
				Email:        email,
				PasswordHash: "hashed:correct-password",
			}, nil
		},
	}
	svc := newTestService(repo, &mockGate{}, &mockIssuer{}, newMockCollector())

	user, issued, err := svc.Login(context.Background(), "alice@example.com", "correct-password")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if user.ID != 7 {
		t.Errorf("user.ID = %d, want 7", user.ID)
	}
	if issued.Session == nil || issued.Refresh == nil {
		t.Error("expected both session and refresh cookies")
	}
}

// 未登録メールアドレスが401 Invalid emailになることを検証
func TestLogin_UnknownEmail_Returns401(t *testing.T) {
	collector := newMockCollector()
	svc := newTestService(&mockUserRepo{}, &mockGate{}, &mockIssuer{}, collector)

	_, _, err := svc.Login(context.Background(), "nobody@example.com", "password")

	appErr := appErrorFrom(t, err)
	if appErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", appErr.Status, http.StatusUnauthorized)
	}
	if appErr.Message != model.MsgInvalidEmail {
		t.Errorf("message = %q, want %q", appErr.Message, model.MsgInvalidEmail)
	}
	if collector.loginFailures != 1 {
		t.Errorf("loginFailures = %d, want 1", collector.loginFailures)
	}
}

// パスワード不一致が401 Invalid passwordになることを検証
func TestLogin_WrongPassword_Returns401(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: 7, Email: email, PasswordHash: "hashed:correct-password"}, nil
		},
	}
	svc := newTestService(repo, &mockGate{}, &mockIssuer{}, newMockCollector())

	_, _, err := svc.Login(context.Background(), "alice@example.com", "wrong-password")

	appErr := appErrorFrom(t, err)
	if appErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", appErr.Status, http.StatusUnauthorized)
	}
	if appErr.Message != model.MsgInvalidPassword {
		t.Errorf("message = %q, want %q", appErr.Message, model.MsgInvalidPassword)
	}
}

// 照合のタイムアウトが503になることを検証
func TestLogin_VerifyTimeout_ReturnsUnavailable(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: 7, Email: email, PasswordHash: "hashed:x"}, nil
		},
	}
	gate := &mockGate{
		verifyFn: func(ctx context.Context, encodedHash, plaintext string, parallelism uint8) (bool, error) {
			return false, fmt.Errorf("%w: queue full", password.ErrTimeout)
		},
	}
	svc := newTestService(repo, gate, &mockIssuer{}, newMockCollector())

	_, _, err := svc.Login(context.Background(), "alice@example.com", "password")

	appErr := appErrorFrom(t, err)
	if appErr.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", appErr.Status, http.StatusServiceUnavailable)
	}
}

// --- リフレッシュ ---

// リフレッシュ成功でプロフィールが永続化層から再解決されることを検証
func TestRefresh_Success_ReloadsUserFromRepository(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id, Username: "alice-renamed", Email: "alice@example.com"}, nil
		},
	}
	svc := newTestService(repo, &mockGate{}, &mockIssuer{}, newMockCollector())

	user, issued, err := svc.Refresh(context.Background(), 7)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if user.Username != "alice-renamed" {
		t.Errorf("username = %q, want repository state", user.Username)
	}
	if issued.Session == nil || issued.Refresh == nil {
		t.Error("expected both session and refresh cookies")
	}
}

// 削除済みユーザーのリフレッシュが403 User no longer existsになることを検証
func TestRefresh_UserGone_Returns403(t *testing.T) {
	svc := newTestService(&mockUserRepo{}, &mockGate{}, &mockIssuer{}, newMockCollector())

	_, _, err := svc.Refresh(context.Background(), 7)

	appErr := appErrorFrom(t, err)
	if appErr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want %d", appErr.Status, http.StatusForbidden)
	}
	if appErr.Message != model.MsgUserGone {
		t.Errorf("message = %q, want %q", appErr.Message, model.MsgUserGone)
	}
}
