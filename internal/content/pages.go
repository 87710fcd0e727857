// Package content はページとリソースのドメインロジックを提供する。
// 入力はsecurity.Validatorで検証・無害化してから永続化する。
package content

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hitoshi/musicroom/internal/metrics"
	"github.com/hitoshi/musicroom/internal/model"
	"github.com/hitoshi/musicroom/internal/repository"
	"github.com/hitoshi/musicroom/internal/security"
)

// FileStore はアップロードファイルの保存先。storage.LocalStorageが実装する。
type FileStore interface {
	Save(relPath string, r io.Reader) (int64, error)
	Remove(relPath string) error
}

// PageWithResources はページと並び順に並べたリソース。
type PageWithResources struct {
	model.Page
	Resources []model.Resource
}

// PageInput はページの作成・更新の入力。nilの項目は更新しない。
type PageInput struct {
	Name       *string
	Type       *model.PageType
	IsFavorite *bool
}

// Service はページとリソースのサービス層。
type Service struct {
	pages     repository.PageRepository
	resources repository.ResourceRepository
	validator *security.Validator
	files     *security.FileValidator
	store     FileStore
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	pages repository.PageRepository,
	resources repository.ResourceRepository,
	validator *security.Validator,
	files *security.FileValidator,
	store FileStore,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		pages:     pages,
		resources: resources,
		validator: validator,
		files:     files,
		store:     store,
		metrics:   collector,
	}
}

// ListPages はお気に入りを先頭に名前順でページを返す。各ページにはリソースを含める。
func (s *Service) ListPages(ctx context.Context) ([]PageWithResources, error) {
	pages, err := s.pages.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ページ一覧の取得に失敗しました: %w", err)
	}
	all, err := s.resources.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("リソース一覧の取得に失敗しました: %w", err)
	}

	byPage := make(map[int64][]model.Resource, len(pages))
	for _, r := range all {
		byPage[r.PageID] = append(byPage[r.PageID], r)
	}

	result := make([]PageWithResources, len(pages))
	for i, p := range pages {
		result[i] = PageWithResources{Page: p, Resources: byPage[p.ID]}
	}
	return result, nil
}

// GetPage はページをリソース付きで返す。
func (s *Service) GetPage(ctx context.Context, id int64) (*PageWithResources, error) {
	page, err := s.findPage(ctx, id)
	if err != nil {
		return nil, err
	}
	resources, err := s.resources.ListByPage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("リソース一覧の取得に失敗しました: %w", err)
	}
	return &PageWithResources{Page: *page, Resources: resources}, nil
}

// CreatePage はページを作成する。名前と種別は必須。
func (s *Service) CreatePage(ctx context.Context, in PageInput) (*model.Page, error) {
	if in.Name == nil {
		return nil, model.NewValidationError("name is required")
	}
	if in.Type == nil {
		return nil, model.NewValidationError("type is required")
	}

	page := &model.Page{}
	if err := s.applyPageInput(page, in); err != nil {
		return nil, err
	}

	if err := s.pages.Create(ctx, page); err != nil {
		return nil, fmt.Errorf("ページの作成に失敗しました: %w", err)
	}

	slog.Info("page created", slog.Int64("page_id", page.ID))
	return page, nil
}

// UpdatePage は指定された項目だけを更新する。
func (s *Service) UpdatePage(ctx context.Context, id int64, in PageInput) (*model.Page, error) {
	page, err := s.findPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyPageInput(page, in); err != nil {
		return nil, err
	}
	if err := s.pages.Update(ctx, page); err != nil {
		return nil, fmt.Errorf("ページの更新に失敗しました: %w", err)
	}
	return page, nil
}

// DeletePage はページを削除する。配下のリソースのファイルも削除する。
func (s *Service) DeletePage(ctx context.Context, id int64) error {
	resources, err := s.resources.ListByPage(ctx, id)
	if err != nil {
		return fmt.Errorf("リソース一覧の取得に失敗しました: %w", err)
	}

	deleted, err := s.pages.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("ページの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("Page")
	}

	for _, r := range resources {
		s.removeFile(r)
	}
	slog.Info("page deleted", slog.Int64("page_id", id), slog.Int("resources", len(resources)))
	return nil
}

func (s *Service) findPage(ctx context.Context, id int64) (*model.Page, error) {
	page, err := s.pages.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ページの取得に失敗しました: %w", err)
	}
	if page == nil {
		return nil, model.NewNotFoundError("Page")
	}
	return page, nil
}

func (s *Service) applyPageInput(page *model.Page, in PageInput) error {
	if in.Name != nil {
		name, err := s.validator.Name(*in.Name)
		if err != nil {
			return err
		}
		page.Name = name
	}
	if in.Type != nil {
		if !in.Type.Valid() {
			return model.NewValidationError(fmt.Sprintf("type must be %q or %q", model.PageTypeSong, model.PageTypeTechnical))
		}
		page.Type = *in.Type
	}
	if in.IsFavorite != nil {
		page.IsFavorite = *in.IsFavorite
	}
	return nil
}
