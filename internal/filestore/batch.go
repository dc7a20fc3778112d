package filestore

import (
	"context"
	"io"
	"log/slog"
)

// Upload is one file in a batch save.
type Upload struct {
	Name   string
	Reader io.Reader
}

// SaveAll persists a batch of files all-or-nothing: if any file fails, the
// already-written files are deleted in reverse order and the error is
// returned with no references recorded. Compensation failures are logged,
// never escalated.
func SaveAll(ctx context.Context, store Store, logger *slog.Logger, category string, uploads []Upload) ([]string, error) {
	refs := make([]string, 0, len(uploads))
	for _, up := range uploads {
		ref, err := store.Save(ctx, category, up.Name, up.Reader)
		if err != nil {
			compensate(ctx, store, logger, refs)
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func compensate(ctx context.Context, store Store, logger *slog.Logger, refs []string) {
	for i := len(refs) - 1; i >= 0; i-- {
		if err := store.Delete(ctx, refs[i]); err != nil && logger != nil {
			logger.Warn("compensating file delete failed",
				slog.String("ref", refs[i]), slog.Any("error", err))
		}
	}
}
