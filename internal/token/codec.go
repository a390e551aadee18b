package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureError は鍵がトークンの署名と一致しなかったことを示す。
// 鍵リングの別候補鍵で再試行してよい。
type SignatureError struct {
	cause error
}

// Error はerrorインターフェースを実装する。
func (e *SignatureError) Error() string {
	return fmt.Sprintf("token signature mismatch: %v", e.cause)
}

// Unwrap は内部エラーを返す。
func (e *SignatureError) Unwrap() error { return e.cause }

// ClaimError は署名は一致したがクレーム検証に失敗したことを示す。
// 署名者の同一性は既に確定しているため、他の鍵で再試行してはならない。
// この区別を混同すると、保持中の旧鍵を握った攻撃者のクレーム偽造が
// 別鍵への再試行で受理されうる。
type ClaimError struct {
	cause error
}

// Error はerrorインターフェースを実装する。
func (e *ClaimError) Error() string {
	return fmt.Sprintf("token claims invalid: %v", e.cause)
}

// Unwrap は内部エラーを返す。
func (e *ClaimError) Unwrap() error { return e.cause }

// Codec は単一の鍵に対するトークンの署名と解析を行う。
// I/Oを持たない純粋なコンポーネントで、鍵の選択は呼び出し側
// （Verifier / Issuer）が行う。署名アルゴリズムはHS256固定。
type Codec struct{}

// NewCodec はCodecを生成する。
func NewCodec() *Codec {
	return &Codec{}
}

// SignSession はセッションクレームを指定鍵で署名する。
// 必須フィールドが欠けたクレームは署名前に拒否する（暗黙の省略はしない）。
func (c *Codec) SignSession(claims *SessionClaims, key []byte) (string, error) {
	if err := validateRegistered(&claims.RegisteredClaims, SubjectSession); err != nil {
		return "", err
	}
	if claims.User.ID <= 0 {
		return "", fmt.Errorf("session claims missing principal id")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// SignRefresh はリフレッシュクレームを指定鍵で署名する。
func (c *Codec) SignRefresh(claims *RefreshClaims, key []byte) (string, error) {
	if err := validateRegistered(&claims.RegisteredClaims, SubjectRefresh); err != nil {
		return "", err
	}
	if claims.UserID <= 0 {
		return "", fmt.Errorf("refresh claims missing user id")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ParseSession はセッショントークンを指定鍵で解析する。
// 失敗はSignatureError（鍵不一致・再試行可）とClaimError（終端）に分類される。
func (c *Codec) ParseSession(tokenStr string, key []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := c.parse(tokenStr, key, SubjectSession, claims); err != nil {
		return nil, err
	}
	if claims.User.ID <= 0 {
		return nil, &ClaimError{cause: errors.New("missing principal id")}
	}
	return claims, nil
}

// ParseRefresh はリフレッシュトークンを指定鍵で解析する。
func (c *Codec) ParseRefresh(tokenStr string, key []byte) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tokenStr, key, SubjectRefresh, claims); err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, &ClaimError{cause: errors.New("missing user id")}
	}
	return claims, nil
}

// parse は共通の解析処理。jwt/v5は署名検証をクレーム検証より先に行うため、
// ErrTokenSignatureInvalid以外の失敗は署名一致後の失敗、すなわち終端と
// みなせる（構文不正のトークンもどの鍵でも直らないため終端に分類する）。
func (c *Codec) parse(tokenStr string, key []byte, subject string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	parsed, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return &SignatureError{cause: err}
		}
		return &ClaimError{cause: err}
	}
	if !parsed.Valid {
		return &ClaimError{cause: jwt.ErrTokenInvalidClaims}
	}

	return nil
}

// validateRegistered は署名前の必須フィールド検証。
func validateRegistered(rc *jwt.RegisteredClaims, subject string) error {
	if rc.Subject != subject {
		return fmt.Errorf("claims subject must be %q, got %q", subject, rc.Subject)
	}
	if len(rc.Audience) == 0 || rc.Audience[0] != Audience {
		return fmt.Errorf("claims audience must be %q", Audience)
	}
	if rc.ExpiresAt == nil {
		return fmt.Errorf("claims missing expiry")
	}
	if rc.IssuedAt == nil {
		return fmt.Errorf("claims missing issued-at")
	}
	return nil
}
