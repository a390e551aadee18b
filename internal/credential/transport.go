// Package credential は認証済みユーザーへのトークン発行と、
// Cookieとしてのレンダリング・トランスポート署名を提供する。
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// SignCookieValue はCookie値に外側署名を付与する。
// 形式は `値.base64(HMAC-SHA256(値))`（末尾のパディング `=` は除去）で、
// @fastify/cookie の署名付きCookieと相互運用できる。トークン自身の
// クレーム署名とは独立した、トランスポート層の改ざん検知。
func SignCookieValue(secret []byte, value string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(value))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return value + "." + strings.TrimRight(sig, "=")
}

// UnsignCookieValue は署名付きCookie値を検証し、元の値を取り出す。
// 値自体にドットが含まれるため（JWT）、最後のドットを区切りとみなす。
// 署名が一致しない場合はfalseを返す。比較は定数時間で行う。
func UnsignCookieValue(secret []byte, signed string) (string, bool) {
	dot := strings.LastIndex(signed, ".")
	if dot < 1 || dot == len(signed)-1 {
		return "", false
	}
	value := signed[:dot]
	expected := SignCookieValue(secret, value)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signed)) != 1 {
		return "", false
	}
	return value, true
}
