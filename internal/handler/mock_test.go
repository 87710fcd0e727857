package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/musicroom/internal/audit"
	"github.com/hitoshi/musicroom/internal/auth"
	"github.com/hitoshi/musicroom/internal/content"
	"github.com/hitoshi/musicroom/internal/middleware"
	"github.com/hitoshi/musicroom/internal/model"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	registerFn func(ctx context.Context, email, password string) (*model.User, error)
	loginFn    func(ctx context.Context, email, password string) (*auth.LoginResult, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return &model.User{ID: 1, Email: email}, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) TokenTTL() time.Duration {
	return time.Hour
}

// mockLegacyDirectory はLegacyDirectoryのモック実装。
type mockLegacyDirectory struct {
	verifyFn func(ctx context.Context, username, password string) (*model.LegacyAccount, error)
}

func (m *mockLegacyDirectory) Verify(ctx context.Context, username, password string) (*model.LegacyAccount, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, username, password)
	}
	return nil, nil
}

// mockPageService はPageServiceInterfaceのモック実装。
type mockPageService struct {
	listPagesFn  func(ctx context.Context) ([]content.PageWithResources, error)
	getPageFn    func(ctx context.Context, id int64) (*content.PageWithResources, error)
	createPageFn func(ctx context.Context, in content.PageInput) (*model.Page, error)
	updatePageFn func(ctx context.Context, id int64, in content.PageInput) (*model.Page, error)
	deletePageFn func(ctx context.Context, id int64) error
}

func (m *mockPageService) ListPages(ctx context.Context) ([]content.PageWithResources, error) {
	if m.listPagesFn != nil {
		return m.listPagesFn(ctx)
	}
	return nil, nil
}

func (m *mockPageService) GetPage(ctx context.Context, id int64) (*content.PageWithResources, error) {
	if m.getPageFn != nil {
		return m.getPageFn(ctx, id)
	}
	return nil, model.NewNotFoundError("Page")
}

func (m *mockPageService) CreatePage(ctx context.Context, in content.PageInput) (*model.Page, error) {
	if m.createPageFn != nil {
		return m.createPageFn(ctx, in)
	}
	return &model.Page{ID: 1}, nil
}

func (m *mockPageService) UpdatePage(ctx context.Context, id int64, in content.PageInput) (*model.Page, error) {
	if m.updatePageFn != nil {
		return m.updatePageFn(ctx, id, in)
	}
	return &model.Page{ID: id}, nil
}

func (m *mockPageService) DeletePage(ctx context.Context, id int64) error {
	if m.deletePageFn != nil {
		return m.deletePageFn(ctx, id)
	}
	return nil
}

// mockResourceService はResourceServiceInterfaceのモック実装。
type mockResourceService struct {
	listResourcesFn    func(ctx context.Context, pageID int64) ([]model.Resource, error)
	getResourceFn      func(ctx context.Context, id int64) (*model.Resource, error)
	createResourceFn   func(ctx context.Context, in content.ResourceInput) (*model.Resource, error)
	updateResourceFn   func(ctx context.Context, id int64, in content.ResourceInput) (*model.Resource, error)
	reorderResourcesFn func(ctx context.Context, orders map[int64]int) ([]model.Resource, error)
	deleteResourceFn   func(ctx context.Context, id int64) error
	uploadFn           func(ctx context.Context, in content.UploadInput) (*model.Resource, error)
	fileRegisteredFn   func(ctx context.Context, filePath string) (bool, error)
}

func (m *mockResourceService) ListResources(ctx context.Context, pageID int64) ([]model.Resource, error) {
	if m.listResourcesFn != nil {
		return m.listResourcesFn(ctx, pageID)
	}
	return nil, nil
}

func (m *mockResourceService) GetResource(ctx context.Context, id int64) (*model.Resource, error) {
	if m.getResourceFn != nil {
		return m.getResourceFn(ctx, id)
	}
	return nil, model.NewNotFoundError("Resource")
}

func (m *mockResourceService) CreateResource(ctx context.Context, in content.ResourceInput) (*model.Resource, error) {
	if m.createResourceFn != nil {
		return m.createResourceFn(ctx, in)
	}
	return &model.Resource{ID: 1}, nil
}

func (m *mockResourceService) UpdateResource(ctx context.Context, id int64, in content.ResourceInput) (*model.Resource, error) {
	if m.updateResourceFn != nil {
		return m.updateResourceFn(ctx, id, in)
	}
	return &model.Resource{ID: id}, nil
}

func (m *mockResourceService) ReorderResources(ctx context.Context, orders map[int64]int) ([]model.Resource, error) {
	if m.reorderResourcesFn != nil {
		return m.reorderResourcesFn(ctx, orders)
	}
	return []model.Resource{}, nil
}

func (m *mockResourceService) DeleteResource(ctx context.Context, id int64) error {
	if m.deleteResourceFn != nil {
		return m.deleteResourceFn(ctx, id)
	}
	return nil
}

func (m *mockResourceService) Upload(ctx context.Context, in content.UploadInput) (*model.Resource, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, in)
	}
	return &model.Resource{ID: 1}, nil
}

func (m *mockResourceService) FileRegistered(ctx context.Context, filePath string) (bool, error) {
	if m.fileRegisteredFn != nil {
		return m.fileRegisteredFn(ctx, filePath)
	}
	return false, nil
}

// dirFiles はディレクトリ配下のファイルを開くFileOpener。
type dirFiles struct {
	dir string
}

func (d dirFiles) Open(relPath string) (*os.File, error) {
	root, err := os.OpenRoot(d.dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	return root.Open(relPath)
}

// --- テストヘルパー ---

func discardAudit() *audit.Logger {
	return audit.NewLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)
}

// bufferAudit は出力を検査できる監査ロガーを返す。
func bufferAudit() (*audit.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return audit.NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)), nil), &buf
}

// withIdentity はテスト用にリクエストコンテキストに主体を注入する。
func withIdentity(r *http.Request, userID int64) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), &model.Identity{UserID: userID, Email: "user@example.com"}))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入する。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseAPIErrorResponse はレスポンスボディを統一エラーフォーマットとしてパースする。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, status, w.Body.String())
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != code {
		t.Errorf("code = %q, want %q", body["code"], code)
	}
}
