package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/musicroom/internal/model"
)

const pageColumns = `id, name, type, is_favorite, created_at`

// PostgresPageRepo はPostgreSQLを使用したページリポジトリ。
type PostgresPageRepo struct {
	db *sqlx.DB
}

// NewPostgresPageRepo はPostgresPageRepoを生成する。
func NewPostgresPageRepo(db *sqlx.DB) *PostgresPageRepo {
	return &PostgresPageRepo{db: db}
}

// List はお気に入りを先頭に、名前順でページを返す。
func (r *PostgresPageRepo) List(ctx context.Context) ([]model.Page, error) {
	pages := []model.Page{}
	if err := r.db.SelectContext(ctx, &pages,
		`SELECT `+pageColumns+` FROM pages ORDER BY is_favorite DESC, name ASC`); err != nil {
		return nil, fmt.Errorf("ページ一覧の取得に失敗しました: %w", err)
	}
	return pages, nil
}

// FindByID は指定IDのページを取得する。見つからない場合はnilを返す。
func (r *PostgresPageRepo) FindByID(ctx context.Context, id int64) (*model.Page, error) {
	var page model.Page
	err := r.db.GetContext(ctx, &page, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ページの取得に失敗しました: %w", err)
	}
	return &page, nil
}

// Create はページを作成する。
func (r *PostgresPageRepo) Create(ctx context.Context, page *model.Page) error {
	rows, err := r.db.NamedQueryContext(ctx,
		`INSERT INTO pages (name, type, is_favorite)
		 VALUES (:name, :type, :is_favorite)
		 RETURNING id, created_at`,
		page,
	)
	if err != nil {
		return fmt.Errorf("ページの作成に失敗しました: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&page.ID, &page.CreatedAt); err != nil {
			return fmt.Errorf("ページIDの読み取りに失敗しました: %w", err)
		}
	}
	return rows.Err()
}

// Update はページの全項目を更新する。
func (r *PostgresPageRepo) Update(ctx context.Context, page *model.Page) error {
	_, err := r.db.NamedExecContext(ctx,
		`UPDATE pages SET name = :name, type = :type, is_favorite = :is_favorite WHERE id = :id`,
		page,
	)
	if err != nil {
		return fmt.Errorf("ページの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete はページを削除する。
func (r *PostgresPageRepo) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pages WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("ページの削除に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}
