// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/authgate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 認証コアが消費する外部コラボレータの境界であり、一意性制約違反は
// model.NewConflictErrorへ写像して返す。
type UserRepository interface {
	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// CountByEmail は指定メールアドレスを持つユーザー数を返す。
	// 登録時の事前チェック用。挿入時の一意性制約が正しさの最終防衛線であり、
	// この事前チェックは親切なエラーメッセージのための最適化にすぎない。
	CountByEmail(ctx context.Context, email string) (int, error)

	// CountByUsername は指定ユーザー名を持つユーザー数を返す。
	CountByUsername(ctx context.Context, username string) (int, error)

	// Insert はユーザーを作成し、採番されたIDとデフォルト値を反映して返す。
	// 一意性制約違反はフィールド別のConflictエラーとして返す。
	Insert(ctx context.Context, user *model.User) (*model.User, error)
}
