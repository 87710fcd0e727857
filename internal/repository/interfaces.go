// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/musicroom/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository はローカル方式のユーザーの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, email, passwordHash string) (*model.User, error)
}

// PageRepository はページの永続化インターフェース。
type PageRepository interface {
	// List はお気に入りを先頭に、名前順でページを返す。
	List(ctx context.Context) ([]model.Page, error)

	// FindByID は指定IDのページを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Page, error)

	// Create はページを作成し、採番されたIDと作成日時をpageに設定する。
	Create(ctx context.Context, page *model.Page) error

	// Update はページの全項目を更新する。
	Update(ctx context.Context, page *model.Page) error

	// Delete はページを削除する。配下のリソースはCASCADE削除される。
	// 対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, id int64) (bool, error)
}

// ResourceRepository はリソースの永続化インターフェース。
type ResourceRepository interface {
	// ListByPage は指定ページのリソースを並び順で返す。
	ListByPage(ctx context.Context, pageID int64) ([]model.Resource, error)

	// ListAll は全リソースをページ、並び順の順で返す。
	ListAll(ctx context.Context) ([]model.Resource, error)

	// FindByID は指定IDのリソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Resource, error)

	// CountByPage は指定ページのリソース数を返す。
	CountByPage(ctx context.Context, pageID int64) (int, error)

	// Create はリソースを作成し、採番されたIDと作成日時をresに設定する。
	Create(ctx context.Context, res *model.Resource) error

	// Update はリソースの全項目を更新する。
	Update(ctx context.Context, res *model.Resource) error

	// Delete はリソースを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, id int64) (bool, error)

	// Reorder はIDごとの並び順を1トランザクションで更新する。
	// 存在しないIDは無視し、更新した件数を返す。
	Reorder(ctx context.Context, orders map[int64]int) (int, error)

	// ExistsByFilePath は指定パスのファイルを持つリソースが存在するかを返す。
	ExistsByFilePath(ctx context.Context, filePath string) (bool, error)
}
