package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/musicroom/internal/audit"
	"github.com/hitoshi/musicroom/internal/content"
	"github.com/hitoshi/musicroom/internal/middleware"
	"github.com/hitoshi/musicroom/internal/model"
	"github.com/hitoshi/musicroom/internal/security"
)

// multipartMemory はマルチパート解析でメモリに保持する上限。超えた分は一時ファイルになる。
const multipartMemory = 8 << 20

// multipartOverhead はファイル本体以外のフォーム項目とヘッダーに許す余裕。
const multipartOverhead = 1 << 20

// ResourceServiceInterface はリソースハンドラーが必要とするサービスインターフェース。
type ResourceServiceInterface interface {
	ListResources(ctx context.Context, pageID int64) ([]model.Resource, error)
	GetResource(ctx context.Context, id int64) (*model.Resource, error)
	CreateResource(ctx context.Context, in content.ResourceInput) (*model.Resource, error)
	UpdateResource(ctx context.Context, id int64, in content.ResourceInput) (*model.Resource, error)
	ReorderResources(ctx context.Context, orders map[int64]int) ([]model.Resource, error)
	DeleteResource(ctx context.Context, id int64) error
	Upload(ctx context.Context, in content.UploadInput) (*model.Resource, error)
	FileRegistered(ctx context.Context, filePath string) (bool, error)
}

// FileOpener は保存済みファイルを開く。storage.LocalStorageが実装する。
type FileOpener interface {
	Open(relPath string) (*os.File, error)
}

// ResourceHandler はリソース管理とファイル配信のHTTPハンドラー。
type ResourceHandler struct {
	service        ResourceServiceInterface
	files          FileOpener
	audit          *audit.Logger
	maxUploadBytes int64
	errors         errorWriter
}

// NewResourceHandler はResourceHandlerを生成する。
// maxUploadBytesはいずれかの分類のサイズ上限の最大値を渡す。
func NewResourceHandler(service ResourceServiceInterface, files FileOpener, auditLogger *audit.Logger, maxUploadBytes int64, development bool) *ResourceHandler {
	return &ResourceHandler{
		service:        service,
		files:          files,
		audit:          auditLogger,
		maxUploadBytes: maxUploadBytes,
		errors:         errorWriter{development: development},
	}
}

type resourceRequest struct {
	PageID       *int64  `json:"page_id"`
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	ResourceType *string `json:"resource_type"`
	ExternalURL  *string `json:"external_url"`
	Order        *int    `json:"order"`
	IsExpanded   *bool   `json:"is_expanded"`
}

func (req resourceRequest) input() content.ResourceInput {
	in := content.ResourceInput{
		PageID:      req.PageID,
		Title:       req.Title,
		Description: req.Description,
		ExternalURL: req.ExternalURL,
		Order:       req.Order,
		IsExpanded:  req.IsExpanded,
	}
	if req.ResourceType != nil {
		t := model.ResourceType(*req.ResourceType)
		in.ResourceType = &t
	}
	return in
}

// ListResources はリソース一覧を返す。page_idクエリで絞り込める。
// GET /api/resources?page_id={id}
func (h *ResourceHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	var pageID int64
	if raw := r.URL.Query().Get("page_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.errors.write(w, r, model.NewValidationError("page_id must be a positive integer"))
			return
		}
		pageID = id
	}

	resources, err := h.service.ListResources(r.Context(), pageID)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResourceResponses(resources))
}

// GetResource はリソースを返す。
// GET /api/resources/{id}
func (h *ResourceHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	res, err := h.service.GetResource(r.Context(), id)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResourceResponse(*res))
}

// CreateResource はリソースを作成する。
// POST /api/resources
func (h *ResourceHandler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}
	res, err := h.service.CreateResource(r.Context(), req.input())
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResourceResponse(*res))
}

// UpdateResource はリソースを部分更新する。
// PUT /api/resources/{id}
func (h *ResourceHandler) UpdateResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	var req resourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}
	res, err := h.service.UpdateResource(r.Context(), id, req.input())
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResourceResponse(*res))
}

// ReorderResources はリソースIDから並び順への対応を受け取り、まとめて更新する。
// 不正な項目はまとめて1つのValidationErrorとして返す。
// PUT /api/resources/reorder
func (h *ResourceHandler) ReorderResources(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		h.errors.write(w, r, err)
		return
	}
	orders, err := security.ParseReorder(raw)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	updated, err := h.service.ReorderResources(r.Context(), orders)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResourceResponses(updated))
}

// DeleteResource はリソースを削除する。
// DELETE /api/resources/{id}
func (h *ResourceHandler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	if err := h.service.DeleteResource(r.Context(), id); err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Resource deleted"})
}

// Upload はマルチパートのfile項目を受け取り、内容を判定してからリソースとして登録する。
// POST /api/resources/upload/{page_id}
func (h *ResourceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	pageID, err := pathID(r, "page_id")
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.errors.write(w, r, model.NewInvalidFileError("file is too large"))
			return
		}
		h.errors.write(w, r, model.NewValidationError("request must be multipart/form-data"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.errors.write(w, r, model.NewValidationError("file is required"))
		return
	}
	defer file.Close()

	res, err := h.service.Upload(r.Context(), uploadInput(r, pageID, file, header))
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResourceResponse(*res))
}

func uploadInput(r *http.Request, pageID int64, file io.Reader, header *multipart.FileHeader) content.UploadInput {
	return content.UploadInput{
		PageID:       pageID,
		Filename:     header.Filename,
		DeclaredMIME: header.Header.Get("Content-Type"),
		Size:         header.Size,
		Body:         file,
		Title:        r.FormValue("title"),
		Description:  r.FormValue("description"),
		ResourceType: r.FormValue("resource_type"),
	}
}

// ServeFile は登録済みリソースのファイルを返す。
// 登録されていないパスは403とする。所有者は確認しない。
// GET /api/resources/file/*
func (h *ResourceHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())
	subject := ""
	if identity != nil {
		subject = identity.Subject()
	}

	filePath := chi.URLParam(r, "*")
	if !fs.ValidPath(filePath) || strings.Contains(filePath, "\\") {
		h.audit.SuspiciousActivity(r, subject, "malformed file path", map[string]any{"file_path": filePath})
		h.errors.write(w, r, model.NewForbiddenError("Access denied"))
		return
	}

	ok, err := h.service.FileRegistered(r.Context(), filePath)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	if !ok {
		h.audit.AuthorizationFailure(r, subject, filePath)
		h.errors.write(w, r, model.NewForbiddenError("Access denied"))
		return
	}

	f, err := h.files.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.errors.write(w, r, model.NewNotFoundError("File"))
			return
		}
		h.errors.write(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	http.ServeContent(w, r, path.Base(filePath), info.ModTime(), f)
}
