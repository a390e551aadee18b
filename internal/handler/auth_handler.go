// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/hitoshi/authgate/internal/credential"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, username, email, plaintext string) (*model.User, *credential.Issued, error)
	Login(ctx context.Context, email, plaintext string) (*model.User, *credential.Issued, error)
	Refresh(ctx context.Context, userID int64) (*model.User, *credential.Issued, error)
}

// CredentialClearer はログアウト時のCookie失効インターフェース。
type CredentialClearer interface {
	Clear() *credential.Issued
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	clearer CredentialClearer
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, clearer CredentialClearer) *AuthHandler {
	return &AuthHandler{
		service: service,
		clearer: clearer,
	}
}

// registerRequest はユーザー登録リクエストのボディ。
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はユーザー情報のAPIレスポンス。
// パスワードハッシュを保持するフィールドは存在しない。
type userResponse struct {
	Bio      string  `json:"bio"`
	Email    string  `json:"email"`
	Image    *string `json:"image"`
	Username string  `json:"username"`
}

// emailPattern はメールアドレスの形式検証。厳密なRFC検証ではなく、
// 明らかな入力ミスを登録前に弾くためのもの。
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const minPasswordLength = 8

// Register はユーザー登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validateRegisterRequest(&req); err != nil {
		middleware.WriteAppError(w, err)
		return
	}

	user, issued, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	issued.Apply(w)
	writeUserResponse(w, http.StatusCreated, user)
}

// Login はログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validateLoginRequest(&req); err != nil {
		middleware.WriteAppError(w, err)
		return
	}

	user, issued, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	issued.Apply(w)
	writeUserResponse(w, http.StatusOK, user)
}

// Me は現在のセッションのユーザー情報を返す。
// GET /auth/me（セッションガードの内側）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.MsgSessionRequired)
		return
	}

	writePrincipalResponse(w, http.StatusOK, principal)
}

// Refresh は検証済みリフレッシュトークンから資格情報を再発行する。
// POST /auth/refresh（リフレッシュガードの内側）
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.RefreshUserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.MsgSessionRequired)
		return
	}

	user, issued, err := h.service.Refresh(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	issued.Apply(w)
	writeUserResponse(w, http.StatusOK, user)
}

// Logout は両Cookieを失効させる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearer.Clear().Apply(w)
	w.WriteHeader(http.StatusNoContent)
}

// validateRegisterRequest は登録リクエストの入力検証を行う。
func validateRegisterRequest(req *registerRequest) error {
	if req.Username == "" {
		return model.NewValidationError("Username is required")
	}
	if !emailPattern.MatchString(req.Email) {
		return model.NewValidationError("Invalid email format")
	}
	if len(req.Password) < minPasswordLength {
		return model.NewValidationError("Password must be at least 8 characters")
	}
	return nil
}

// validateLoginRequest はログインリクエストの入力検証を行う。
func validateLoginRequest(req *loginRequest) error {
	if req.Email == "" {
		return model.NewValidationError("Email is required")
	}
	if req.Password == "" {
		return model.NewValidationError("Password is required")
	}
	return nil
}

// handleServiceError はサービス層のエラーをHTTPレスポンスへ写像する。
// AppError以外は内部エラーとして扱い、詳細はログのみに記録する。
func handleServiceError(w http.ResponseWriter, err error) {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		middleware.WriteAppError(w, err)
		return
	}

	slog.Error("unexpected service error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// writeUserResponse はユーザー情報をJSONで書き込む。
func writeUserResponse(w http.ResponseWriter, statusCode int, user *model.User) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(userResponse{
		Bio:      user.Bio,
		Email:    user.Email,
		Image:    user.Image,
		Username: user.Username,
	})
}

// writePrincipalResponse はトークン内のユーザービューをJSONで書き込む。
func writePrincipalResponse(w http.ResponseWriter, statusCode int, principal token.Principal) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(userResponse{
		Bio:      principal.Bio,
		Email:    principal.Email,
		Image:    principal.Image,
		Username: principal.Username,
	})
}
