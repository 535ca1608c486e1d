package store

import (
	"context"
	"errors"
	"time"

	"github.com/pavelanni/examhall/internal/model"
)

// GetImportedFileHash returns the content hash recorded for a fixture path.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := get(ctx, s.db, &hash, `SELECT hash FROM imported_files WHERE path = ?`, path)
	if errors.Is(err, model.ErrNotFound) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash upserts the content hash of an imported fixture.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := exec(ctx, s.db,
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		path, hash, time.Now().UTC(),
	)
	return err
}
