package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/hitoshi/musicroom/internal/content"
	"github.com/hitoshi/musicroom/internal/model"
)

// PageServiceInterface はページハンドラーが必要とするサービスインターフェース。
type PageServiceInterface interface {
	ListPages(ctx context.Context) ([]content.PageWithResources, error)
	GetPage(ctx context.Context, id int64) (*content.PageWithResources, error)
	CreatePage(ctx context.Context, in content.PageInput) (*model.Page, error)
	UpdatePage(ctx context.Context, id int64, in content.PageInput) (*model.Page, error)
	DeletePage(ctx context.Context, id int64) error
}

// PageHandler はページ管理のHTTPハンドラー。
type PageHandler struct {
	service PageServiceInterface
	errors  errorWriter
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(service PageServiceInterface, development bool) *PageHandler {
	return &PageHandler{service: service, errors: errorWriter{development: development}}
}

type pageRequest struct {
	Name       *string `json:"name"`
	Type       *string `json:"type"`
	IsFavorite *bool   `json:"is_favorite"`
}

func (p pageRequest) input() content.PageInput {
	in := content.PageInput{Name: p.Name, IsFavorite: p.IsFavorite}
	if p.Type != nil {
		t := model.PageType(*p.Type)
		in.Type = &t
	}
	return in
}

type pageResponse struct {
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	Type       model.PageType     `json:"type"`
	IsFavorite bool               `json:"is_favorite"`
	CreatedAt  time.Time          `json:"created_at"`
}

// pageDetailResponse はリソースを含むページのレスポンス。リソースがなければ空配列を返す。
type pageDetailResponse struct {
	pageResponse
	Resources []resourceResponse `json:"resources"`
}

type resourceResponse struct {
	ID           int64              `json:"id"`
	PageID       int64              `json:"page_id"`
	Title        string             `json:"title"`
	Description  *string            `json:"description"`
	ResourceType model.ResourceType `json:"resource_type"`
	FilePath     *string            `json:"file_path"`
	ExternalURL  *string            `json:"external_url"`
	Order        int                `json:"order"`
	IsExpanded   bool               `json:"is_expanded"`
	CreatedAt    time.Time          `json:"created_at"`
}

func toPageResponse(p model.Page) pageResponse {
	return pageResponse{
		ID:         p.ID,
		Name:       p.Name,
		Type:       p.Type,
		IsFavorite: p.IsFavorite,
		CreatedAt:  p.CreatedAt,
	}
}

func toPageDetailResponse(p content.PageWithResources) pageDetailResponse {
	return pageDetailResponse{pageResponse: toPageResponse(p.Page), Resources: toResourceResponses(p.Resources)}
}

func toResourceResponse(r model.Resource) resourceResponse {
	return resourceResponse{
		ID:           r.ID,
		PageID:       r.PageID,
		Title:        r.Title,
		Description:  nullable(r.Description),
		ResourceType: r.ResourceType,
		FilePath:     nullable(r.FilePath),
		ExternalURL:  nullable(r.ExternalURL),
		Order:        r.Order,
		IsExpanded:   r.IsExpanded,
		CreatedAt:    r.CreatedAt,
	}
}

func toResourceResponses(resources []model.Resource) []resourceResponse {
	out := make([]resourceResponse, len(resources))
	for i, r := range resources {
		out[i] = toResourceResponse(r)
	}
	return out
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// ListPages はページ一覧をリソース付きで返す。
// GET /api/pages
func (h *PageHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.service.ListPages(r.Context())
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	resp := make([]pageDetailResponse, len(pages))
	for i, p := range pages {
		resp[i] = toPageDetailResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPage はページをリソース付きで返す。
// GET /api/pages/{id}
func (h *PageHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	page, err := h.service.GetPage(r.Context(), id)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageDetailResponse(*page))
}

// CreatePage はページを作成する。
// POST /api/pages
func (h *PageHandler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}

	page, err := h.service.CreatePage(r.Context(), req.input())
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPageResponse(*page))
}

// UpdatePage はページを部分更新する。
// PUT /api/pages/{id}
func (h *PageHandler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	var req pageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}

	page, err := h.service.UpdatePage(r.Context(), id, req.input())
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(*page))
}

// DeletePage はページを削除する。
// DELETE /api/pages/{id}
func (h *PageHandler) DeletePage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	if err := h.service.DeletePage(r.Context(), id); err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Page deleted"})
}
