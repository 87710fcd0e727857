package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/musicroom/internal/model"
	"github.com/hitoshi/musicroom/internal/security"
)

// UploadInput はファイルアップロードの入力。
// Filename、DeclaredMIMEはクライアントの申告値で、内容の判定には使わない。
type UploadInput struct {
	PageID       int64
	Filename     string
	DeclaredMIME string
	Size         int64
	Body         io.Reader
	Title        string
	Description  string
	ResourceType string
}

// expectedCategory はリソース種別から期待するファイル分類を返す。
// 分類に対応しない種別は制約なしとする。
func expectedCategory(t model.ResourceType) security.FileCategory {
	switch t {
	case model.ResourceTypePhoto:
		return security.CategoryPhoto
	case model.ResourceTypeVideo:
		return security.CategoryVideo
	case model.ResourceTypeDocument:
		return security.CategoryDocument
	default:
		return ""
	}
}

// Upload はファイル内容をマジックバイトで判定・検証してから保存し、リソースを作成する。
// 保存名は {ページ種別}/{ページID}/{UUID}{判定した拡張子} とし、クライアントのファイル名は使わない。
func (s *Service) Upload(ctx context.Context, in UploadInput) (*model.Resource, error) {
	page, err := s.findPage(ctx, in.PageID)
	if err != nil {
		return nil, err
	}

	var resourceType model.ResourceType
	if in.ResourceType != "" {
		resourceType = model.ResourceType(strings.ToLower(strings.TrimSpace(in.ResourceType)))
		if !resourceType.Valid() {
			return nil, model.NewValidationError(fmt.Sprintf("resource_type %q is not supported", in.ResourceType))
		}
	}

	head := make([]byte, security.SniffLength)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("アップロードの読み込みに失敗しました: %w", err)
	}
	head = head[:n]

	info, err := s.files.ClassifyHead(head, in.Size, in.DeclaredMIME, in.Filename, expectedCategory(resourceType))
	if err != nil {
		return nil, err
	}
	if resourceType == "" {
		resourceType = model.ResourceType(info.Category)
	}

	title := in.Title
	if strings.TrimSpace(title) == "" {
		title = security.SanitizeFilename(in.Filename)
		if title == "" {
			title = "untitled" + info.Extension
		}
	}
	title, err = s.validator.Title(title)
	if err != nil {
		return nil, err
	}
	description, err := s.validator.Description(in.Description)
	if err != nil {
		return nil, err
	}

	relPath := fmt.Sprintf("%s/%d/%s%s", page.Type, page.ID, uuid.NewString(), info.Extension)
	limit := s.files.Limits().For(info.Category)

	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), in.Body), limit+1)
	written, err := s.store.Save(relPath, body)
	if err != nil {
		return nil, fmt.Errorf("ファイルの保存に失敗しました: %w", err)
	}
	if written > limit {
		s.discard(relPath)
		return nil, model.NewInvalidFileError(fmt.Sprintf("file exceeds the %d MB limit for %s files", limit>>20, info.Category))
	}

	count, err := s.resources.CountByPage(ctx, page.ID)
	if err != nil {
		s.discard(relPath)
		return nil, fmt.Errorf("リソース数の取得に失敗しました: %w", err)
	}

	res := &model.Resource{
		PageID:       page.ID,
		Title:        title,
		Description:  nullString(description),
		ResourceType: resourceType,
		FilePath:     nullString(relPath),
		Order:        count,
		IsExpanded:   true,
	}
	if err := s.resources.Create(ctx, res); err != nil {
		s.discard(relPath)
		return nil, fmt.Errorf("リソースの作成に失敗しました: %w", err)
	}

	s.metrics.RecordUpload(string(info.Category), written)
	slog.Info("file uploaded",
		slog.Int64("resource_id", res.ID),
		slog.String("category", string(info.Category)),
		slog.Int64("bytes", written),
	)
	return res, nil
}

func (s *Service) discard(relPath string) {
	if err := s.store.Remove(relPath); err != nil {
		slog.Warn("failed to remove uploaded file", slog.String("path", relPath), slog.String("error", err.Error()))
	}
}
