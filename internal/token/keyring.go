// Package token は署名付きトークンの発行・解析・検証を提供する。
//
// 鍵リング（Keyring）は順序付きの共有シークレット列で、署名には常に
// 現行鍵（最後に追加された鍵）のみを使い、検証は全候補鍵に対して行う。
// これにより、鍵ローテーション後も旧鍵で署名されたトークンを猶予期間中
// 受け入れつつ、現行鍵での再発行を促せる。
package token

import "errors"

// ErrEmptyKeyring は鍵リングが空のまま構築された場合のエラー。
// 起動時の致命的設定エラーであり、リクエスト単位のエラーではない。
var ErrEmptyKeyring = errors.New("keyring must contain at least one secret")

// Keyring は署名・検証用シークレットの順序付きコレクション。
// 初期化後はイミュータブルで、ロックなしで並行読み出しできる。
type Keyring struct {
	secrets [][]byte
}

// NewKeyring は設定済みシークレット列からKeyringを構築する。
// 列の末尾が現行の署名鍵となる。空の列はErrEmptyKeyringを返す。
func NewKeyring(secrets []string) (*Keyring, error) {
	if len(secrets) == 0 {
		return nil, ErrEmptyKeyring
	}
	ring := &Keyring{secrets: make([][]byte, len(secrets))}
	for i, s := range secrets {
		if s == "" {
			return nil, ErrEmptyKeyring
		}
		ring.secrets[i] = []byte(s)
	}
	return ring, nil
}

// Current は現行の署名鍵を返す。署名は必ずこの鍵のみで行う。
func (k *Keyring) Current() []byte {
	return k.secrets[len(k.secrets)-1]
}

// Candidates は検証候補鍵を優先順に返す。現行鍵が先頭で、
// 以降は新しい順に保持中の旧鍵が続く。現行鍵で署名された
// トークンが最初の反復で解決するようにしている。
func (k *Keyring) Candidates() [][]byte {
	candidates := make([][]byte, 0, len(k.secrets))
	for i := len(k.secrets) - 1; i >= 0; i-- {
		candidates = append(candidates, k.secrets[i])
	}
	return candidates
}
