package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/musicroom/internal/model"
)

const resourceColumns = `id, page_id, title, description, resource_type, file_path,
	external_url, sort_order, is_expanded, created_at`

// PostgresResourceRepo はPostgreSQLを使用したリソースリポジトリ。
type PostgresResourceRepo struct {
	db *sqlx.DB
}

// NewPostgresResourceRepo はPostgresResourceRepoを生成する。
func NewPostgresResourceRepo(db *sqlx.DB) *PostgresResourceRepo {
	return &PostgresResourceRepo{db: db}
}

// ListByPage は指定ページのリソースを並び順で返す。
func (r *PostgresResourceRepo) ListByPage(ctx context.Context, pageID int64) ([]model.Resource, error) {
	resources := []model.Resource{}
	if err := r.db.SelectContext(ctx, &resources,
		`SELECT `+resourceColumns+` FROM resources WHERE page_id = $1 ORDER BY sort_order, id`,
		pageID,
	); err != nil {
		return nil, fmt.Errorf("リソース一覧の取得に失敗しました: %w", err)
	}
	return resources, nil
}

// ListAll は全リソースを返す。
func (r *PostgresResourceRepo) ListAll(ctx context.Context) ([]model.Resource, error) {
	resources := []model.Resource{}
	if err := r.db.SelectContext(ctx, &resources,
		`SELECT `+resourceColumns+` FROM resources ORDER BY page_id, sort_order, id`,
	); err != nil {
		return nil, fmt.Errorf("リソース一覧の取得に失敗しました: %w", err)
	}
	return resources, nil
}

// FindByID は指定IDのリソースを取得する。見つからない場合はnilを返す。
func (r *PostgresResourceRepo) FindByID(ctx context.Context, id int64) (*model.Resource, error) {
	var res model.Resource
	err := r.db.GetContext(ctx, &res, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リソースの取得に失敗しました: %w", err)
	}
	return &res, nil
}

// CountByPage は指定ページのリソース数を返す。
func (r *PostgresResourceRepo) CountByPage(ctx context.Context, pageID int64) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM resources WHERE page_id = $1`, pageID); err != nil {
		return 0, fmt.Errorf("リソース数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Create はリソースを作成する。
func (r *PostgresResourceRepo) Create(ctx context.Context, res *model.Resource) error {
	rows, err := r.db.NamedQueryContext(ctx,
		`INSERT INTO resources (page_id, title, description, resource_type, file_path,
		                        external_url, sort_order, is_expanded)
		 VALUES (:page_id, :title, :description, :resource_type, :file_path,
		         :external_url, :sort_order, :is_expanded)
		 RETURNING id, created_at`,
		res,
	)
	if err != nil {
		return fmt.Errorf("リソースの作成に失敗しました: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&res.ID, &res.CreatedAt); err != nil {
			return fmt.Errorf("リソースIDの読み取りに失敗しました: %w", err)
		}
	}
	return rows.Err()
}

// Update はリソースの全項目を更新する。
func (r *PostgresResourceRepo) Update(ctx context.Context, res *model.Resource) error {
	_, err := r.db.NamedExecContext(ctx,
		`UPDATE resources SET
		     title = :title, description = :description, resource_type = :resource_type,
		     file_path = :file_path, external_url = :external_url,
		     sort_order = :sort_order, is_expanded = :is_expanded
		 WHERE id = :id`,
		res,
	)
	if err != nil {
		return fmt.Errorf("リソースの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete はリソースを削除する。
func (r *PostgresResourceRepo) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("リソースの削除に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// Reorder はIDごとの並び順を1トランザクションで更新する。
func (r *PostgresResourceRepo) Reorder(ctx context.Context, orders map[int64]int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `UPDATE resources SET sort_order = $1 WHERE id = $2`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare reorder statement: %w", err)
	}
	defer stmt.Close()

	updated := 0
	for id, order := range orders {
		result, err := stmt.ExecContext(ctx, order, id)
		if err != nil {
			return 0, fmt.Errorf("並び順の更新に失敗しました (id=%d): %w", id, err)
		}
		if n, err := result.RowsAffected(); err == nil {
			updated += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

// ExistsByFilePath は指定パスのファイルを持つリソースが存在するかを返す。
func (r *PostgresResourceRepo) ExistsByFilePath(ctx context.Context, filePath string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM resources WHERE file_path = $1)`, filePath); err != nil {
		return false, fmt.Errorf("ファイルパスの確認に失敗しました: %w", err)
	}
	return exists, nil
}
