package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pavelanni/examhall/internal/model"
)

// ImportFixtures loads fixture files that were never imported before. A
// file whose content changed since its import is skipped so running
// sessions keep the questions they started with.
func (e *Engine) ImportFixtures(ctx context.Context, paths []string) (int, error) {
	imported := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return imported, fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := e.store.GetImportedFileHash(ctx, path)
		if err != nil {
			return imported, fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("fixture file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("fixture file changed since last import, skipping to avoid breaking existing sessions",
				"path", path)
			continue
		}

		var fx model.Fixture
		if err := json.Unmarshal(data, &fx); err != nil {
			return imported, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := e.LoadFixture(ctx, fx); err != nil {
			return imported, fmt.Errorf("load %s: %w", path, err)
		}
		if err := e.store.SetImportedFileHash(ctx, path, hash); err != nil {
			return imported, fmt.Errorf("record import for %s: %w", path, err)
		}
		imported++
	}
	return imported, nil
}

// LoadFixture writes a tenant's ledger, roster, bank and packages. Ready
// packages that already exist are left as they are.
func (e *Engine) LoadFixture(ctx context.Context, fx model.Fixture) error {
	if fx.TenantID == "" {
		return model.NewValidationError(model.FieldError{Field: "tenant_id", Error: "this field is required"})
	}
	if fx.QuotaTotal > 0 {
		if err := e.store.SetQuota(ctx, fx.TenantID, fx.QuotaTotal); err != nil {
			return fmt.Errorf("set quota: %w", err)
		}
	}
	for _, st := range fx.Students {
		st.TenantID = fx.TenantID
		if err := e.store.UpsertStudent(ctx, st); err != nil {
			return fmt.Errorf("student %s: %w", st.ID, err)
		}
	}
	for _, q := range fx.Questions {
		q.TenantID = fx.TenantID
		if err := e.store.UpsertQuestion(ctx, q); err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
	}
	for _, p := range fx.Packages {
		p.TenantID = fx.TenantID
		err := e.store.SavePackage(ctx, p)
		if errors.Is(err, model.ErrPackageImmutable) {
			slog.Warn("package is ready, keeping stored version", "tenant", fx.TenantID, "package", p.ID)
			continue
		}
		if err != nil {
			return fmt.Errorf("package %s: %w", p.ID, err)
		}
	}
	slog.Info("fixture loaded", "tenant", fx.TenantID, "students", len(fx.Students),
		"questions", len(fx.Questions), "packages", len(fx.Packages), "quota", fx.QuotaTotal)
	return nil
}

// SavePackage stores a package definition. Ready packages are immutable.
func (e *Engine) SavePackage(ctx context.Context, tenantID string, p model.ExamPackage) (model.ExamPackage, error) {
	p.TenantID = tenantID
	if p.ID == "" {
		p.ID = e.newID()
	}
	if err := e.store.SavePackage(ctx, p); err != nil {
		return p, err
	}
	slog.Info("package saved", "tenant", tenantID, "package", p.ID, "ready", p.Ready)
	return e.store.GetPackage(ctx, tenantID, p.ID)
}

// GetPackage returns one package.
func (e *Engine) GetPackage(ctx context.Context, tenantID, id string) (model.ExamPackage, error) {
	return e.store.GetPackage(ctx, tenantID, id)
}

// ListStudents returns the tenant's roster.
func (e *Engine) ListStudents(ctx context.Context, tenantID string) ([]model.Student, error) {
	return e.store.ListStudents(ctx, tenantID)
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
