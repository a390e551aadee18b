package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgreSQLの一意性制約名。マイグレーションのスキーマ定義と一致させること。
const (
	usernameUniqueConstraint = "users_user_username_key"
	emailUniqueConstraint    = "users_user_email_key"
)

// uniqueViolation はPostgreSQLのunique_violationエラーコード。
const uniqueViolation = pq.ErrorCode("23505")

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
// メールアドレス列はcitextのため、照合は大文字小文字を区別しない。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, user_username, user_email, user_password, user_bio, user_image
		 FROM users WHERE user_email = $1`,
		email,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Bio, &user.Image)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, user_username, user_email, user_password, user_bio, user_image
		 FROM users WHERE user_id = $1`,
		id,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Bio, &user.Image)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// CountByEmail は指定メールアドレスを持つユーザー数を返す。
func (r *PostgresUserRepo) CountByEmail(ctx context.Context, email string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM users WHERE user_email = $1`,
		email,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users by email: %w", err)
	}
	return count, nil
}

// CountByUsername は指定ユーザー名を持つユーザー数を返す。
func (r *PostgresUserRepo) CountByUsername(ctx context.Context, username string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM users WHERE user_username = $1`,
		username,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users by username: %w", err)
	}
	return count, nil
}

// Insert はユーザーを作成する。
// 事前チェックをすり抜けた並行登録による一意性制約違反は、ここで
// フィールド別のConflictエラーへ写像する。制約違反が正しさの根拠であり、
// 事前チェックの結果に依存しない。
func (r *PostgresUserRepo) Insert(ctx context.Context, user *model.User) (*model.User, error) {
	created := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (user_username, user_email, user_password)
		 VALUES ($1, $2, $3)
		 RETURNING user_id, user_username, user_email, user_password, user_bio, user_image`,
		user.Username, user.Email, user.PasswordHash,
	).Scan(&created.ID, &created.Username, &created.Email, &created.PasswordHash, &created.Bio, &created.Image)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			switch pqErr.Constraint {
			case usernameUniqueConstraint:
				return nil, model.NewConflictError(model.MsgUsernameExists)
			case emailUniqueConstraint:
				return nil, model.NewConflictError(model.MsgEmailExists)
			}
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return created, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
