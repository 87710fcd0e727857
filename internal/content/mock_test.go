package content

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/hitoshi/musicroom/internal/model"
	"github.com/hitoshi/musicroom/internal/repository"
	"github.com/hitoshi/musicroom/internal/security"
)

// mockPageRepo はPageRepositoryのテスト用モック。
type mockPageRepo struct {
	listFn     func(ctx context.Context) ([]model.Page, error)
	findByIDFn func(ctx context.Context, id int64) (*model.Page, error)
	createFn   func(ctx context.Context, page *model.Page) error
	updateFn   func(ctx context.Context, page *model.Page) error
	deleteFn   func(ctx context.Context, id int64) (bool, error)
}

func (m *mockPageRepo) List(ctx context.Context) ([]model.Page, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockPageRepo) FindByID(ctx context.Context, id int64) (*model.Page, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockPageRepo) Create(ctx context.Context, page *model.Page) error {
	if m.createFn != nil {
		return m.createFn(ctx, page)
	}
	page.ID = 1
	return nil
}

func (m *mockPageRepo) Update(ctx context.Context, page *model.Page) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, page)
	}
	return nil
}

func (m *mockPageRepo) Delete(ctx context.Context, id int64) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return true, nil
}

// mockResourceRepo はResourceRepositoryのテスト用モック。
type mockResourceRepo struct {
	listByPageFn       func(ctx context.Context, pageID int64) ([]model.Resource, error)
	listAllFn          func(ctx context.Context) ([]model.Resource, error)
	findByIDFn         func(ctx context.Context, id int64) (*model.Resource, error)
	countByPageFn      func(ctx context.Context, pageID int64) (int, error)
	createFn           func(ctx context.Context, res *model.Resource) error
	updateFn           func(ctx context.Context, res *model.Resource) error
	deleteFn           func(ctx context.Context, id int64) (bool, error)
	reorderFn          func(ctx context.Context, orders map[int64]int) (int, error)
	existsByFilePathFn func(ctx context.Context, filePath string) (bool, error)
}

func (m *mockResourceRepo) ListByPage(ctx context.Context, pageID int64) ([]model.Resource, error) {
	if m.listByPageFn != nil {
		return m.listByPageFn(ctx, pageID)
	}
	return nil, nil
}

func (m *mockResourceRepo) ListAll(ctx context.Context) ([]model.Resource, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockResourceRepo) FindByID(ctx context.Context, id int64) (*model.Resource, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockResourceRepo) CountByPage(ctx context.Context, pageID int64) (int, error) {
	if m.countByPageFn != nil {
		return m.countByPageFn(ctx, pageID)
	}
	return 0, nil
}

func (m *mockResourceRepo) Create(ctx context.Context, res *model.Resource) error {
	if m.createFn != nil {
		return m.createFn(ctx, res)
	}
	res.ID = 1
	return nil
}

func (m *mockResourceRepo) Update(ctx context.Context, res *model.Resource) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, res)
	}
	return nil
}

func (m *mockResourceRepo) Delete(ctx context.Context, id int64) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return true, nil
}

func (m *mockResourceRepo) Reorder(ctx context.Context, orders map[int64]int) (int, error) {
	if m.reorderFn != nil {
		return m.reorderFn(ctx, orders)
	}
	return len(orders), nil
}

func (m *mockResourceRepo) ExistsByFilePath(ctx context.Context, filePath string) (bool, error) {
	if m.existsByFilePathFn != nil {
		return m.existsByFilePathFn(ctx, filePath)
	}
	return false, nil
}

var (
	_ repository.PageRepository     = (*mockPageRepo)(nil)
	_ repository.ResourceRepository = (*mockResourceRepo)(nil)
)

// memoryStore はFileStoreのテスト用実装。
type memoryStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	removed []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{files: make(map[string][]byte)}
}

func (s *memoryStore) Save(relPath string, r io.Reader) (int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[relPath] = buf.Bytes()
	return n, nil
}

func (s *memoryStore) Remove(relPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, relPath)
	s.removed = append(s.removed, relPath)
	return nil
}

func newTestService(pages *mockPageRepo, resources *mockResourceRepo, store FileStore) *Service {
	return NewService(
		pages,
		resources,
		security.NewValidator(security.NewContentSanitizer()),
		security.NewFileValidator(security.DefaultSizeLimits()),
		store,
		nil,
	)
}

func ptr[T any](v T) *T {
	return &v
}
