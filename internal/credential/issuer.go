package credential

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

const (
	// SessionCookieName はセッショントークンを運ぶCookieの名前。
	// クライアントとの相互運用のため厳密に一致させること。
	SessionCookieName = "SESSION_TOKEN"

	// RefreshCookieName はリフレッシュトークンを運ぶCookieの名前。
	RefreshCookieName = "REFRESH_TOKEN"

	// RefreshCookiePath はリフレッシュCookieの送信先を
	// リフレッシュルートに限定するパス。
	RefreshCookiePath = "/auth/refresh"
)

// IssuerConfig はIssuerの設定。
// トークン寿命とCookie属性は外部設定から注入する。
type IssuerConfig struct {
	SessionTTL   time.Duration
	RefreshTTL   time.Duration
	CookieSecret []byte
	SameSite     http.SameSite
	Secure       bool
	Domain       string
}

// Issued は発行済みCookieのペア。RefreshはwithRefresh=falseの場合nil。
type Issued struct {
	Session *http.Cookie
	Refresh *http.Cookie
}

// Issuer は認証済みユーザーへセッション・リフレッシュトークンを発行し、
// トランスポート署名付きCookieとしてレンダリングする。
type Issuer struct {
	keyring *token.Keyring
	codec   *token.Codec
	config  IssuerConfig

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(keyring *token.Keyring, cfg IssuerConfig) *Issuer {
	return &Issuer{
		keyring: keyring,
		codec:   token.NewCodec(),
		config:  cfg,
		now:     time.Now,
	}
}

// Issue はユーザーに対するCookieペアを発行する。
// 有効期限は発行時刻＋寿命の絶対時刻で計算し、Cookieのmax-ageは
// トークン寿命の秒数と常に一致させる（クレーム側の期限と同期を保つ）。
// ユーザービューの構築段階でパスワードハッシュは落ちる。
func (i *Issuer) Issue(user *model.User, withRefresh bool) (*Issued, error) {
	now := i.now()
	key := i.keyring.Current()

	sessionClaims := &token.SessionClaims{
		User: token.NewPrincipal(user),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   token.SubjectSession,
			Audience:  jwt.ClaimStrings{token.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.SessionTTL)),
		},
	}
	sessionToken, err := i.codec.SignSession(sessionClaims, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	issued := &Issued{
		Session: i.renderCookie(SessionCookieName, sessionToken, "/", i.config.SessionTTL),
	}

	if withRefresh {
		refreshClaims := &token.RefreshClaims{
			UserID: user.ID,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   token.SubjectRefresh,
				Audience:  jwt.ClaimStrings{token.Audience},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(i.config.RefreshTTL)),
				ID:        uuid.New().String(),
			},
		}
		refreshToken, err := i.codec.SignRefresh(refreshClaims, key)
		if err != nil {
			return nil, fmt.Errorf("failed to sign refresh token: %w", err)
		}
		issued.Refresh = i.renderCookie(RefreshCookieName, refreshToken, RefreshCookiePath, i.config.RefreshTTL)
	}

	return issued, nil
}

// Clear はログアウト時に両Cookieを失効させるペアを返す。
// 空値かつ過去の期限で上書きする。
func (i *Issuer) Clear() *Issued {
	return &Issued{
		Session: i.expiredCookie(SessionCookieName, "/"),
		Refresh: i.expiredCookie(RefreshCookieName, RefreshCookiePath),
	}
}

// Apply はIssuedの各CookieをレスポンスにSet-Cookieとして書き込む。
func (issued *Issued) Apply(w http.ResponseWriter) {
	if issued.Session != nil {
		http.SetCookie(w, issued.Session)
	}
	if issued.Refresh != nil {
		http.SetCookie(w, issued.Refresh)
	}
}

func (i *Issuer) renderCookie(name, tokenStr, path string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    SignCookieValue(i.config.CookieSecret, tokenStr),
		Path:     path,
		Domain:   i.config.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   i.config.Secure,
		SameSite: i.config.SameSite,
	}
}

func (i *Issuer) expiredCookie(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   i.config.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   i.config.Secure,
		SameSite: i.config.SameSite,
	}
}
