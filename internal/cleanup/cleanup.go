// Package cleanup はどのリソースからも参照されていないアップロードファイルを削除するジョブを提供する。
// アップロード途中でプロセスが落ちた場合などに残るファイルが対象。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Selector はsqlxのSelectContextを抽象化するインターフェース。
// *sqlx.DB や *sqlx.Tx を受け付けることができる。
type Selector interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// FileStore は保存済みファイルの列挙と削除を行う。storage.LocalStorageが実装する。
type FileStore interface {
	Walk(fn func(relPath string, modTime time.Time) error) error
	Remove(relPath string) error
}

// OrphanFileJob は参照されていないアップロードファイルを削除するジョブ。
// 冪等で、何度実行しても参照中のファイルには触れない。
type OrphanFileJob struct {
	db     Selector
	files  FileStore
	logger *slog.Logger
	now    func() time.Time

	// GracePeriod より新しいファイルは、行の挿入前のアップロードかもしれないため残す（デフォルト: 24時間）
	GracePeriod time.Duration
}

// NewOrphanFileJob は新しいOrphanFileJobを生成する。
func NewOrphanFileJob(db Selector, files FileStore, logger *slog.Logger) *OrphanFileJob {
	return &OrphanFileJob{
		db:          db,
		files:       files,
		logger:      logger,
		now:         time.Now,
		GracePeriod: 24 * time.Hour,
	}
}

// Run は参照されていないファイルのうちGracePeriodより古いものを削除する。
// 個々の削除失敗はログに残して続行し、件数だけを返り値のエラーにまとめる。
func (j *OrphanFileJob) Run(ctx context.Context) error {
	start := j.now()

	var paths []string
	query := `SELECT file_path FROM resources WHERE file_path IS NOT NULL AND file_path <> ''`
	if err := j.db.SelectContext(ctx, &paths, query); err != nil {
		j.logger.Error("参照中ファイルの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("参照中ファイルの取得に失敗: %w", err)
	}

	referenced := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		referenced[p] = struct{}{}
	}

	cutoff := start.Add(-j.GracePeriod)
	var scanned, deleted, failed int
	err := j.files.Walk(func(relPath string, modTime time.Time) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		scanned++
		if _, ok := referenced[relPath]; ok {
			return nil
		}
		if modTime.After(cutoff) {
			return nil
		}
		if err := j.files.Remove(relPath); err != nil {
			failed++
			j.logger.Warn("孤立ファイルの削除に失敗しました",
				slog.String("path", relPath),
				slog.String("error", err.Error()),
			)
			return nil
		}
		deleted++
		return nil
	})
	if err != nil {
		return fmt.Errorf("ファイルの走査に失敗: %w", err)
	}

	j.logger.Info("孤立ファイルのクリーンアップが完了しました",
		slog.Int("scanned_count", scanned),
		slog.Int("deleted_count", deleted),
		slog.Int("failed_count", failed),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)

	if failed > 0 {
		return fmt.Errorf("%d件の孤立ファイルを削除できませんでした", failed)
	}
	return nil
}
