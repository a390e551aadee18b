// Package model はドメインモデルを定義する。
package model

// User は登録ユーザーを表す。
// PasswordHash は発行トークンにもレスポンスボディにも載せてはならない。
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Bio          string
	Image        *string
}
