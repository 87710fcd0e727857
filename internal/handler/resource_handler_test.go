package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hitoshi/musicroom/internal/content"
	"github.com/hitoshi/musicroom/internal/model"
)

func newTestResourceHandler(svc ResourceServiceInterface, files FileOpener) *ResourceHandler {
	return NewResourceHandler(svc, files, discardAudit(), 1<<20, false)
}

func TestListResources_PageFilter(t *testing.T) {
	var gotPage int64 = -1
	svc := &mockResourceService{listResourcesFn: func(_ context.Context, pageID int64) ([]model.Resource, error) {
		gotPage = pageID
		return nil, nil
	}}
	h := newTestResourceHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ListResources(w, httptest.NewRequest(http.MethodGet, "/api/resources?page_id=12", nil))
	if w.Code != http.StatusOK || gotPage != 12 {
		t.Errorf("status = %d, page = %d", w.Code, gotPage)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %s, want empty array", w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ListResources(w, httptest.NewRequest(http.MethodGet, "/api/resources?page_id=-1", nil))
	assertErrorResponse(t, w, http.StatusBadRequest, model.ErrCodeValidation)
}

func TestCreateResource_IgnoresFilePath(t *testing.T) {
	var got content.ResourceInput
	svc := &mockResourceService{createResourceFn: func(_ context.Context, in content.ResourceInput) (*model.Resource, error) {
		got = in
		return &model.Resource{ID: 2, PageID: *in.PageID}, nil
	}}

	w := httptest.NewRecorder()
	newTestResourceHandler(svc, nil).CreateResource(w, jsonRequest(http.MethodPost, "/api/resources",
		`{"page_id":1,"title":"Lesson","resource_type":"video","external_url":"https://example.com/v","file_path":"../../etc/passwd"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if got.ResourceType == nil || *got.ResourceType != model.ResourceTypeVideo || *got.ExternalURL != "https://example.com/v" {
		t.Errorf("input = %+v", got)
	}
}

func TestReorderResources(t *testing.T) {
	var got map[int64]int
	svc := &mockResourceService{reorderResourcesFn: func(_ context.Context, orders map[int64]int) ([]model.Resource, error) {
		got = orders
		return []model.Resource{{ID: 2, Order: 0}, {ID: 1, Order: 1}}, nil
	}}
	h := newTestResourceHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ReorderResources(w, jsonRequest(http.MethodPut, "/api/resources/reorder", `{"1":1,"2":"0"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if !reflect.DeepEqual(got, map[int64]int{1: 1, 2: 0}) {
		t.Errorf("orders = %v", got)
	}
	var body []map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if len(body) != 2 || body[0]["id"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestReorderResources_AggregatesInvalidEntries(t *testing.T) {
	called := false
	svc := &mockResourceService{reorderResourcesFn: func(context.Context, map[int64]int) ([]model.Resource, error) {
		called = true
		return nil, nil
	}}

	w := httptest.NewRecorder()
	newTestResourceHandler(svc, nil).ReorderResources(w, jsonRequest(http.MethodPut, "/api/resources/reorder", `{"x":1,"2":-1}`))

	assertErrorResponse(t, w, http.StatusBadRequest, model.ErrCodeValidation)
	if called {
		t.Error("service should not be called for invalid input")
	}
}

func multipartUpload(t *testing.T, fields map[string]string, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write(data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/resources/upload/3", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return withChiURLParam(req, "page_id", "3")
}

func TestUpload_PassesClientMetadata(t *testing.T) {
	var got content.UploadInput
	var gotBody []byte
	svc := &mockResourceService{uploadFn: func(_ context.Context, in content.UploadInput) (*model.Resource, error) {
		got = in
		gotBody, _ = io.ReadAll(in.Body)
		return &model.Resource{ID: 5, PageID: in.PageID}, nil
	}}

	data := []byte("%PDF-1.7 fake body")
	req := multipartUpload(t, map[string]string{"title": "Chart", "resource_type": "music_sheet"}, "chart.pdf", "application/pdf", data)

	w := httptest.NewRecorder()
	newTestResourceHandler(svc, nil).Upload(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if got.PageID != 3 || got.Filename != "chart.pdf" || got.DeclaredMIME != "application/pdf" || got.Size != int64(len(data)) {
		t.Errorf("input = %+v", got)
	}
	if got.Title != "Chart" || got.ResourceType != "music_sheet" {
		t.Errorf("form fields = %q, %q", got.Title, got.ResourceType)
	}
	if !bytes.Equal(gotBody, data) {
		t.Errorf("body = %q", gotBody)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	w := httptest.NewRecorder()
	newTestResourceHandler(&mockResourceService{}, nil).Upload(w, multipartUpload(t, map[string]string{"title": "x"}, "", "", nil))
	assertErrorResponse(t, w, http.StatusBadRequest, model.ErrCodeValidation)
}

func TestUpload_BodyOverLimit(t *testing.T) {
	h := NewResourceHandler(&mockResourceService{}, nil, discardAudit(), 16, false)
	data := bytes.Repeat([]byte{'a'}, multipartOverhead+1024)

	w := httptest.NewRecorder()
	h.Upload(w, multipartUpload(t, nil, "big.png", "image/png", data))
	assertErrorResponse(t, w, http.StatusBadRequest, model.ErrCodeInvalidFile)
}

func TestServeFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "song", "1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "song", "1", "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := &mockResourceService{fileRegisteredFn: func(_ context.Context, p string) (bool, error) {
		return p == "song/1/a.txt" || p == "song/1/missing.txt", nil
	}}

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "登録済み", path: "song/1/a.txt", wantStatus: http.StatusOK},
		{name: "未登録", path: "song/1/other.txt", wantStatus: http.StatusForbidden},
		{name: "親ディレクトリ", path: "../secret", wantStatus: http.StatusForbidden},
		{name: "登録済みだが実体なし", path: "song/1/missing.txt", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/resources/file/x", nil), "*", tt.path)
			req = withIdentity(req, 1)

			w := httptest.NewRecorder()
			newTestResourceHandler(svc, dirFiles{dir: dir}).ServeFile(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus == http.StatusOK && w.Body.String() != "hello" {
				t.Errorf("body = %q", w.Body.String())
			}
		})
	}
}

func TestServeFile_UnregisteredIsAudited(t *testing.T) {
	auditLogger, buf := bufferAudit()
	h := NewResourceHandler(&mockResourceService{}, nil, auditLogger, 1<<20, false)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/resources/file/x", nil), "*", "song/2/b.png")
	w := httptest.NewRecorder()
	h.ServeFile(w, withIdentity(req, 7))

	assertErrorResponse(t, w, http.StatusForbidden, model.ErrCodeForbidden)
	if !strings.Contains(buf.String(), "authorization_failure") || !strings.Contains(buf.String(), `"user_identifier":"7"`) {
		t.Errorf("audit output = %s", buf.String())
	}
}
