package token

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authgate/internal/model"
)

const (
	// Audience は両トークン種別のaudクレーム値。
	// セッション用途以外のトークンとの混同（token confusion）を防ぐ。
	Audience = "session"

	// SubjectSession はセッショントークンのsubクレーム値。
	SubjectSession = "authenticate"

	// SubjectRefresh はリフレッシュトークンのsubクレーム値。
	SubjectRefresh = "refresh"
)

// Principal はセッショントークンに埋め込む認証済みユーザーのビュー。
// パスワードハッシュを保持するフィールドは存在しない。
type Principal struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Bio      string  `json:"bio"`
	Image    *string `json:"image"`
}

// NewPrincipal はUserからPrincipalを構築する。
// フィールドを個別に写すことで、User側に何が増えても
// パスワードハッシュがトークンへ漏れないようにしている。
func NewPrincipal(u *model.User) Principal {
	return Principal{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Bio:      u.Bio,
		Image:    u.Image,
	}
}

// SessionClaims はセッショントークンのクレーム。
// ワイヤ形式: {sub:"authenticate", iat, exp, aud:"session", usr:{...}}
type SessionClaims struct {
	User Principal `json:"usr"`
	jwt.RegisteredClaims
}

// RefreshClaims はリフレッシュトークンのクレーム。
// ユーザーIDのみを運び、プロフィールは使用時に再取得させる。
// ワイヤ形式: {sub:"refresh", iat, exp, aud:"session", uid}
type RefreshClaims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}
