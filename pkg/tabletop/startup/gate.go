// Package startup opens the save file before the server accepts traffic
package startup

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mikepea/tabletop/pkg/tabletop/database"
	"github.com/mikepea/tabletop/pkg/tabletop/migrations"
	"github.com/mikepea/tabletop/pkg/tabletop/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ExitStoreFailure is the process exit status when the save file cannot be used
const ExitStoreFailure = 2

// SecretTokenSize is the length of the token generated for a new save file
const SecretTokenSize = 32

// ErrCorruptStore is returned for a file that has no save metadata
var ErrCorruptStore = errors.New("save file has no metadata; refusing to guess its format")

// Open returns a save file that is ready to serve. A missing file is created
// with the current schema. An existing file is upgraded to the current
// version, or rejected if it cannot be.
func Open(ctx context.Context, path string, logLevel logger.LogLevel) (*gorm.DB, *models.StoreMetadata, error) {
	fresh, err := isFresh(path)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(path, logLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("open save file: %w", err)
	}

	var meta *models.StoreMetadata
	if fresh {
		meta, err = initialize(ctx, db)
	} else {
		meta, err = upgrade(ctx, db, path)
	}
	if err != nil {
		database.Close(db)
		return nil, nil, err
	}

	slog.Info("Save file ready", "path", path, "version", meta.SaveVersion)
	return db, meta, nil
}

func isFresh(path string) (bool, error) {
	if path == ":memory:" {
		return true, nil
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat save file: %w", err)
	}
	return false, nil
}

func initialize(ctx context.Context, db *gorm.DB) (*models.StoreMetadata, error) {
	slog.Info("Creating new save file", "version", migrations.CurrentVersion)

	token := make([]byte, SecretTokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("generate secret token: %w", err)
	}

	meta := &models.StoreMetadata{SaveVersion: migrations.CurrentVersion, SecretToken: token}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.AutoMigrate(tx); err != nil {
			return err
		}
		return tx.Create(meta).Error
	})
	if err != nil {
		return nil, fmt.Errorf("initialize save file: %w", err)
	}
	return meta, nil
}

func upgrade(ctx context.Context, db *gorm.DB, path string) (*models.StoreMetadata, error) {
	if !db.Migrator().HasTable(&models.StoreMetadata{}) {
		return nil, ErrCorruptStore
	}

	m := migrations.New(db, path)
	version, err := m.Version(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCorruptStore
	}
	if err != nil {
		return nil, fmt.Errorf("read save version: %w", err)
	}

	if _, err := m.Upgrade(ctx, version); err != nil {
		return nil, err
	}

	var meta models.StoreMetadata
	if err := db.WithContext(ctx).Order("id").First(&meta).Error; err != nil {
		return nil, fmt.Errorf("read save metadata: %w", err)
	}
	return &meta, nil
}
