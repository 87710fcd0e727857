package content

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hitoshi/musicroom/internal/model"
)

// ResourceInput はリソースの作成・更新の入力。nilの項目は更新しない。
// ファイルパスはアップロードでのみ設定され、ここからは変更できない。
type ResourceInput struct {
	PageID       *int64
	Title        *string
	Description  *string
	ResourceType *model.ResourceType
	ExternalURL  *string
	Order        *int
	IsExpanded   *bool
}

// ListResources はリソースを並び順で返す。pageIDが0の場合は全件を返す。
func (s *Service) ListResources(ctx context.Context, pageID int64) ([]model.Resource, error) {
	var (
		resources []model.Resource
		err       error
	)
	if pageID > 0 {
		resources, err = s.resources.ListByPage(ctx, pageID)
	} else {
		resources, err = s.resources.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("リソース一覧の取得に失敗しました: %w", err)
	}
	return resources, nil
}

// GetResource はリソースを返す。
func (s *Service) GetResource(ctx context.Context, id int64) (*model.Resource, error) {
	return s.findResource(ctx, id)
}

// CreateResource はリソースを作成する。並び順はページ内の現在の件数になる。
func (s *Service) CreateResource(ctx context.Context, in ResourceInput) (*model.Resource, error) {
	if in.PageID == nil {
		return nil, model.NewValidationError("page_id is required")
	}
	if in.Title == nil {
		return nil, model.NewValidationError("title is required")
	}
	if in.ResourceType == nil {
		return nil, model.NewValidationError("resource_type is required")
	}
	if _, err := s.findPage(ctx, *in.PageID); err != nil {
		return nil, err
	}

	res := &model.Resource{PageID: *in.PageID, IsExpanded: true}
	in.Order = nil
	if err := s.applyResourceInput(res, in); err != nil {
		return nil, err
	}

	count, err := s.resources.CountByPage(ctx, res.PageID)
	if err != nil {
		return nil, fmt.Errorf("リソース数の取得に失敗しました: %w", err)
	}
	res.Order = count

	if err := s.resources.Create(ctx, res); err != nil {
		return nil, fmt.Errorf("リソースの作成に失敗しました: %w", err)
	}
	return res, nil
}

// UpdateResource は指定された項目だけを更新する。
func (s *Service) UpdateResource(ctx context.Context, id int64, in ResourceInput) (*model.Resource, error) {
	res, err := s.findResource(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.PageID != nil && *in.PageID != res.PageID {
		if _, err := s.findPage(ctx, *in.PageID); err != nil {
			return nil, err
		}
		res.PageID = *in.PageID
	}
	if err := s.applyResourceInput(res, in); err != nil {
		return nil, err
	}
	if err := s.resources.Update(ctx, res); err != nil {
		return nil, fmt.Errorf("リソースの更新に失敗しました: %w", err)
	}
	return res, nil
}

// ReorderResources は並び順をまとめて更新し、更新後のリソースを返す。
// 存在しないIDは無視する。
func (s *Service) ReorderResources(ctx context.Context, orders map[int64]int) ([]model.Resource, error) {
	if len(orders) == 0 {
		return []model.Resource{}, nil
	}
	if _, err := s.resources.Reorder(ctx, orders); err != nil {
		return nil, fmt.Errorf("並び順の更新に失敗しました: %w", err)
	}

	updated := make([]model.Resource, 0, len(orders))
	for id := range orders {
		res, err := s.resources.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("リソースの取得に失敗しました: %w", err)
		}
		if res != nil {
			updated = append(updated, *res)
		}
	}
	sortByOrder(updated)
	return updated, nil
}

// DeleteResource はリソースを削除し、保存済みのファイルがあれば削除する。
func (s *Service) DeleteResource(ctx context.Context, id int64) error {
	res, err := s.findResource(ctx, id)
	if err != nil {
		return err
	}
	deleted, err := s.resources.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("リソースの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("Resource")
	}
	s.removeFile(*res)
	return nil
}

// FileRegistered は指定パスのファイルを持つリソースが登録されているかを返す。
// 所有者は確認しない。
func (s *Service) FileRegistered(ctx context.Context, filePath string) (bool, error) {
	ok, err := s.resources.ExistsByFilePath(ctx, filePath)
	if err != nil {
		return false, fmt.Errorf("ファイルの確認に失敗しました: %w", err)
	}
	return ok, nil
}

func (s *Service) findResource(ctx context.Context, id int64) (*model.Resource, error) {
	res, err := s.resources.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("リソースの取得に失敗しました: %w", err)
	}
	if res == nil {
		return nil, model.NewNotFoundError("Resource")
	}
	return res, nil
}

func (s *Service) applyResourceInput(res *model.Resource, in ResourceInput) error {
	if in.Title != nil {
		title, err := s.validator.Title(*in.Title)
		if err != nil {
			return err
		}
		res.Title = title
	}
	if in.Description != nil {
		desc, err := s.validator.Description(*in.Description)
		if err != nil {
			return err
		}
		res.Description = nullString(desc)
	}
	if in.ResourceType != nil {
		if !in.ResourceType.Valid() {
			return model.NewValidationError(fmt.Sprintf("resource_type %q is not supported", *in.ResourceType))
		}
		res.ResourceType = *in.ResourceType
	}
	if in.ExternalURL != nil {
		u, err := s.validator.URL(*in.ExternalURL)
		if err != nil {
			return err
		}
		res.ExternalURL = nullString(u)
	}
	if in.Order != nil {
		if *in.Order < 0 {
			return model.NewValidationError("order must be a non-negative integer")
		}
		res.Order = *in.Order
	}
	if in.IsExpanded != nil {
		res.IsExpanded = *in.IsExpanded
	}
	return nil
}

// removeFile はリソースのファイルを削除する。失敗してもリソースの削除は取り消さない。
func (s *Service) removeFile(res model.Resource) {
	if !res.FilePath.Valid || res.FilePath.String == "" {
		return
	}
	if err := s.store.Remove(res.FilePath.String); err != nil {
		slog.Warn("failed to remove resource file",
			slog.Int64("resource_id", res.ID),
			slog.String("error", err.Error()),
		)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func sortByOrder(resources []model.Resource) {
	slices.SortFunc(resources, func(a, b model.Resource) int {
		return cmp.Or(
			cmp.Compare(a.PageID, b.PageID),
			cmp.Compare(a.Order, b.Order),
			cmp.Compare(a.ID, b.ID),
		)
	})
}
