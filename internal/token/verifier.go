package token

import (
	"bytes"
	"errors"
)

// ErrInvalidToken はどの候補鍵でも署名が一致しなかった場合の汎用エラー。
// 試行した鍵の数や内訳は漏らさない。
var ErrInvalidToken = errors.New("invalid token")

// SessionResult はセッショントークン検証の成功結果。
// Renew は署名鍵が現行鍵でなかったことを示し、呼び出し側に
// 現行鍵での再発行を促す。
type SessionResult struct {
	Claims *SessionClaims
	Renew  bool
}

// RefreshResult はリフレッシュトークン検証の成功結果。
type RefreshResult struct {
	Claims *RefreshClaims
	Renew  bool
}

// Verifier は鍵リングの候補鍵を順に試してトークンを検証する。
// 検証ごとに新しい結果を構築し、共有可変状態を持たない。
type Verifier struct {
	keyring *Keyring
	codec   *Codec
}

// NewVerifier はVerifierを生成する。
func NewVerifier(keyring *Keyring) *Verifier {
	return &Verifier{keyring: keyring, codec: NewCodec()}
}

// VerifySession はセッショントークンを検証する。
// 候補鍵を優先順に試し、SignatureErrorなら次の鍵へ進む。
// ClaimErrorは署名者が確定した後の失敗なので、残りの鍵を試さず
// 直ちに失敗を返す。全鍵で署名不一致ならErrInvalidTokenを返す。
func (v *Verifier) VerifySession(tokenStr string) (*SessionResult, error) {
	current := v.keyring.Current()

	for _, key := range v.keyring.Candidates() {
		claims, err := v.codec.ParseSession(tokenStr, key)
		if err != nil {
			var sigErr *SignatureError
			if errors.As(err, &sigErr) {
				continue
			}
			return nil, err
		}
		return &SessionResult{
			Claims: claims,
			Renew:  !bytes.Equal(key, current),
		}, nil
	}

	return nil, ErrInvalidToken
}

// VerifyRefresh はリフレッシュトークンを検証する。
// 成功してもクレームはユーザーIDしか運ばないため、呼び出し側は
// 永続化層からユーザーを再解決しなければならない。
func (v *Verifier) VerifyRefresh(tokenStr string) (*RefreshResult, error) {
	current := v.keyring.Current()

	for _, key := range v.keyring.Candidates() {
		claims, err := v.codec.ParseRefresh(tokenStr, key)
		if err != nil {
			var sigErr *SignatureError
			if errors.As(err, &sigErr) {
				continue
			}
			return nil, err
		}
		return &RefreshResult{
			Claims: claims,
			Renew:  !bytes.Equal(key, current),
		}, nil
	}

	return nil, ErrInvalidToken
}
