package startup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mikepea/tabletop/pkg/tabletop/database"
	"github.com/mikepea/tabletop/pkg/tabletop/migrations"
	"github.com/mikepea/tabletop/pkg/tabletop/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func savePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "planar.sqlite")
}

// writeStore prepares an existing save file and closes it again
func writeStore(t *testing.T, path string, prepare func(db *gorm.DB) error) {
	t.Helper()
	db, err := database.Open(path, logger.Silent)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer database.Close(db)
	if err := prepare(db); err != nil {
		t.Fatalf("Failed to prepare save file: %v", err)
	}
}

func TestOpenCreatesFreshStore(t *testing.T) {
	path := savePath(t)

	db, meta, err := Open(context.Background(), path, logger.Silent)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close(db)

	if meta.SaveVersion != migrations.CurrentVersion {
		t.Errorf("Expected version %d, got %d", migrations.CurrentVersion, meta.SaveVersion)
	}
	if len(meta.SecretToken) != SecretTokenSize {
		t.Errorf("Expected %d byte token, got %d", SecretTokenSize, len(meta.SecretToken))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected save file to exist: %v", err)
	}

	var count int64
	db.Model(&models.StoreMetadata{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected exactly one metadata row, got %d", count)
	}
	if !db.Migrator().HasTable(&models.Group{}) {
		t.Error("Expected groups table")
	}
}

func TestOpenReusesExistingStore(t *testing.T) {
	path := savePath(t)

	db, first, err := Open(context.Background(), path, logger.Silent)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	database.Close(db)

	db, second, err := Open(context.Background(), path, logger.Silent)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer database.Close(db)

	if string(first.SecretToken) != string(second.SecretToken) {
		t.Error("Expected secret token to be kept across restarts")
	}
	if _, err := os.Stat(migrations.BackupPath(path, migrations.CurrentVersion)); !os.IsNotExist(err) {
		t.Error("Expected no backup when no upgrade ran")
	}
}

func TestOpenUpgradesLegacyStore(t *testing.T) {
	path := savePath(t)
	script, err := os.ReadFile("../migrations/testdata/v13.sql")
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}
	writeStore(t, path, func(db *gorm.DB) error {
		return db.Exec(string(script)).Error
	})

	db, meta, err := Open(context.Background(), path, logger.Silent)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close(db)

	if meta.SaveVersion != migrations.CurrentVersion {
		t.Errorf("Expected version %d, got %d", migrations.CurrentVersion, meta.SaveVersion)
	}
	if _, err := os.Stat(migrations.BackupPath(path, migrations.OldestSupportedVersion)); err != nil {
		t.Errorf("Expected backup of the legacy file: %v", err)
	}
}

func TestOpenRejectsBadStores(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(db *gorm.DB) error
		wantErr error
	}{
		{
			name: "no metadata table",
			prepare: func(db *gorm.DB) error {
				return db.Exec(`CREATE TABLE "notes" ("id" INTEGER)`).Error
			},
			wantErr: ErrCorruptStore,
		},
		{
			name: "no metadata row",
			prepare: func(db *gorm.DB) error {
				return models.AutoMigrate(db)
			},
			wantErr: ErrCorruptStore,
		},
		{
			name: "unsupported version",
			prepare: func(db *gorm.DB) error {
				return stamp(db, migrations.OldestSupportedVersion-1)
			},
			wantErr: migrations.ErrUnsupportedVersion,
		},
		{
			name: "future version",
			prepare: func(db *gorm.DB) error {
				return stamp(db, migrations.CurrentVersion+1)
			},
			wantErr: migrations.ErrFutureVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := savePath(t)
			writeStore(t, path, tt.prepare)

			db, _, err := Open(context.Background(), path, logger.Silent)
			if db != nil {
				database.Close(db)
				t.Error("Expected no database handle on failure")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestOpenRejectsNonDatabaseFile(t *testing.T) {
	path := savePath(t)
	if err := os.WriteFile(path, []byte("definitely not sqlite, just some text padding it out past the header size"), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, _, err := Open(context.Background(), path, logger.Silent)
	if err == nil {
		t.Fatal("Expected Open to fail")
	}
}

func stamp(db *gorm.DB, version int) error {
	if err := models.AutoMigrate(db); err != nil {
		return err
	}
	return db.Create(&models.StoreMetadata{SaveVersion: version, SecretToken: []byte("secret")}).Error
}
