// Package storage はアップロードされたファイルをローカルディスクに保存する。
// すべての操作はos.Rootでベースディレクトリ内に閉じ込める。
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"
)

// ErrInvalidPath はベースディレクトリ外を指す、または不正な形式のパスを表す。
var ErrInvalidPath = errors.New("invalid storage path")

// LocalStorage はベースディレクトリ配下にファイルを保存する。
type LocalStorage struct {
	root *os.Root
	dir  string
}

// NewLocalStorage はベースディレクトリを作成して開く。
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage directory: %w", err)
	}
	return &LocalStorage{root: root, dir: dir}, nil
}

// Dir はベースディレクトリを返す。
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Close はベースディレクトリを閉じる。
func (s *LocalStorage) Close() error {
	return s.root.Close()
}

// Save はスラッシュ区切りの相対パスにrの内容を書き込み、書き込んだバイト数を返す。
// 途中で失敗した場合は書きかけのファイルを削除する。
func (s *LocalStorage) Save(relPath string, r io.Reader) (int64, error) {
	name, err := localName(relPath)
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(name); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return 0, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.root.Remove(name)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	return n, nil
}

// Open は保存済みファイルを読み取り用に開く。
func (s *LocalStorage) Open(relPath string) (*os.File, error) {
	name, err := localName(relPath)
	if err != nil {
		return nil, err
	}
	return s.root.Open(name)
}

// Remove は保存済みファイルを削除する。存在しない場合はエラーにしない。
func (s *LocalStorage) Remove(relPath string) error {
	name, err := localName(relPath)
	if err != nil {
		return err
	}
	if err := s.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// Walk はベースディレクトリ配下の全ファイルについて、スラッシュ区切りの相対パスと更新時刻をfnに渡す。
func (s *LocalStorage) Walk(fn func(relPath string, modTime time.Time) error) error {
	return fs.WalkDir(s.root.FS(), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(p, info.ModTime())
	})
}

// localName はスラッシュ区切りの相対パスをOSのパスに変換する。
// 絶対パスや..を含むパスは拒否する。
func localName(relPath string) (string, error) {
	if relPath == "" || path.IsAbs(relPath) || !filepath.IsLocal(filepath.FromSlash(relPath)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	if path.Clean(relPath) != relPath {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	return filepath.FromSlash(relPath), nil
}
