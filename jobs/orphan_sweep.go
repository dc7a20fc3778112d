package jobs

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// orphanMinAge keeps the sweep away from files whose owning record may still
// be mid-write.
const orphanMinAge = 24 * time.Hour

// OrphanSweepJob deletes uploaded files no record references. Aborted batch
// saves leave files behind; finalize aborts leave final candidates behind.
// The sweep reconciles disk against the store.
type OrphanSweepJob struct {
	pool      *pgxpool.Pool
	uploadDir string
	logger    *slog.Logger
}

// NewOrphanSweepJob constructs an OrphanSweepJob.
func NewOrphanSweepJob(pool *pgxpool.Pool, uploadDir string, logger *slog.Logger) *OrphanSweepJob {
	return &OrphanSweepJob{pool: pool, uploadDir: uploadDir, logger: logger}
}

// Handle processes TaskOrphanSweep tasks.
func (j *OrphanSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	referenced, err := j.referencedRefs(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-orphanMinAge)
	removed := 0
	err = filepath.WalkDir(j.uploadDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(j.uploadDir, path)
		if err != nil {
			return err
		}
		ref := "/uploads/" + filepath.ToSlash(rel)
		if referenced[ref] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			j.logger.Warn("orphan delete failed", slog.String("ref", ref), slog.Any("error", err))
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return err
	}
	j.logger.Info("orphan sweep complete", slog.Int("removed", removed))
	return nil
}

// referencedRefs collects every file reference the store knows about.
func (j *OrphanSweepJob) referencedRefs(ctx context.Context) (map[string]bool, error) {
	refs := make(map[string]bool)

	rows, err := j.pool.Query(ctx, `SELECT unnest(raw_docs || final_docs) FROM agreements`)
	if err != nil {
		return nil, err
	}
	if err := collectRefs(rows, refs); err != nil {
		return nil, err
	}

	rows, err = j.pool.Query(ctx, `SELECT unnest(verification_refs) FROM agreement_members`)
	if err != nil {
		return nil, err
	}
	if err := collectRefs(rows, refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func collectRefs(rows pgx.Rows, out map[string]bool) error {
	defer rows.Close()
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return err
		}
		out[ref] = true
	}
	return rows.Err()
}
