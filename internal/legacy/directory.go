// Package legacy は旧システムのユーザーディレクトリを参照する。
// 外部IdPへ移行する利用者が、旧ユーザー名とパスワードから移行先のメールアドレスを確認するために使う。
package legacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hitoshi/musicroom/internal/model"
)

// ErrNotConfigured は旧ディレクトリが構成されていないことを表す。
var ErrNotConfigured = errors.New("legacy directory is not configured")

const findByUsernameQuery = `SELECT id, username, email, password_hash
	FROM users
	WHERE username = $1 AND is_temporary = false`

// querier はpgxpool.Poolのうち参照に使うメソッド。
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PasswordComparer はハッシュとパスワードを照合する。auth.PasswordHasherが実装する。
type PasswordComparer interface {
	Compare(hash, password string) bool
	CompareDummy(password string)
}

// Directory は旧ユーザーディレクトリ。poolがnilの場合は未構成として扱う。
type Directory struct {
	db       querier
	pool     *pgxpool.Pool
	comparer PasswordComparer
}

// Open はURLに接続したDirectoryを返す。URLが空の場合は未構成のDirectoryを返す。
func Open(ctx context.Context, url string, comparer PasswordComparer) (*Directory, error) {
	if url == "" {
		return &Directory{comparer: comparer}, nil
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create legacy pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping legacy database: %w", err)
	}

	return &Directory{db: pool, pool: pool, comparer: comparer}, nil
}

// Configured は旧ディレクトリが利用可能かを返す。
func (d *Directory) Configured() bool {
	return d.db != nil
}

// Close は接続プールを閉じる。
func (d *Directory) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// Verify はユーザー名とパスワードを照合し、一致したアカウントを返す。
// 一時アカウントは対象外。アカウントが存在しない場合とパスワード不一致の場合はnil, nilを返す。
func (d *Directory) Verify(ctx context.Context, username, password string) (*model.LegacyAccount, error) {
	if !d.Configured() {
		return nil, ErrNotConfigured
	}

	var acc model.LegacyAccount
	err := d.db.QueryRow(ctx, findByUsernameQuery, username).
		Scan(&acc.ID, &acc.Username, &acc.Email, &acc.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			d.comparer.CompareDummy(password)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query legacy user: %w", err)
	}

	if !d.comparer.Compare(acc.PasswordHash, password) {
		return nil, nil
	}
	return &acc, nil
}
