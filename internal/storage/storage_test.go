package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"vitalwatch/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "vitalwatch.db")
	return cfg
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	db, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	n, err := Migrate(ctx, db)
	if err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one migration on a fresh database")
	}
	n, err = Migrate(ctx, db)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no pending migrations, got %d", n)
	}

	applied, err := AppliedMigrations(ctx, db)
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if len(applied) == 0 || applied[0] != "001_init.sql" {
		t.Fatalf("unexpected applied list: %v", applied)
	}
}

func TestBackupWritesSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	db, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		"INSERT INTO preferences(key, value, updated_at) VALUES ('grid', '{}', '2024-01-01T00:00:00Z')"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	dst, err := Backup(ctx, db, filepath.Join(t.TempDir(), "backups"))
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil || info.Size() == 0 {
		t.Fatalf("backup file missing or empty: %v", err)
	}
	if err := Vacuum(ctx, db); err != nil {
		t.Fatalf("vacuum: %v", err)
	}
}
