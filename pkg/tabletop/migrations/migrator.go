// Package migrations upgrades save files written by older releases.
//
// Every save file records its format in store_metadata.save_version. A step
// registered under version v rewrites a version v file into a version v+1
// file. Steps are applied one at a time, each inside its own transaction that
// also bumps save_version, and a copy of the file is taken before each step.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/mikepea/tabletop/pkg/tabletop/metrics"
	"github.com/mikepea/tabletop/pkg/tabletop/models"
	"gorm.io/gorm"
)

const (
	// CurrentVersion is the save format written by this release
	CurrentVersion = 26

	// OldestSupportedVersion is the oldest save format with upgrade code
	OldestSupportedVersion = 13
)

var (
	ErrUnsupportedVersion = errors.New("save format is no longer supported")
	ErrFutureVersion      = errors.New("save format is newer than this release")
	ErrVersionChanged     = errors.New("save version changed during upgrade")
)

// StepFunc transforms a save file inside the given transaction
type StepFunc func(tx *gorm.DB) error

// Step upgrades a save file by exactly one version
type Step struct {
	Description string
	Apply       StepFunc
}

// Registry maps a save version to the step that upgrades it to the next version
type Registry map[int]Step

// StepError reports a failed upgrade step. The save file is left at From.
type StepError struct {
	From   int
	Backup string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("upgrade from save format %d failed: %v", e.From, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Migrator applies registered steps to an open save file
type Migrator struct {
	db      *gorm.DB
	path    string
	steps   Registry
	current int
}

// New creates a migrator for the save file at path using the built-in steps.
// path is used for backups only; an empty path disables them.
func New(db *gorm.DB, path string) *Migrator {
	return NewWithRegistry(db, path, DefaultRegistry(), CurrentVersion)
}

// NewWithRegistry creates a migrator with a custom step registry and target version
func NewWithRegistry(db *gorm.DB, path string, steps Registry, current int) *Migrator {
	return &Migrator{db: db, path: path, steps: steps, current: current}
}

// Version reads the save version recorded in the file
func (m *Migrator) Version(ctx context.Context) (int, error) {
	return ReadVersion(m.db.WithContext(ctx))
}

// ReadVersion returns the save_version of the metadata row.
// It returns gorm.ErrRecordNotFound when the row is missing.
func ReadVersion(db *gorm.DB) (int, error) {
	var meta models.StoreMetadata
	if err := db.Order("id").First(&meta).Error; err != nil {
		return 0, err
	}
	return meta.SaveVersion, nil
}

// Check reports whether version can be upgraded to the current version
func (m *Migrator) Check(version int) error {
	switch {
	case version > m.current:
		return fmt.Errorf("%w: save format %d, this release writes %d", ErrFutureVersion, version, m.current)
	case version == m.current:
		return nil
	}
	if _, ok := m.steps[version]; !ok {
		return fmt.Errorf("%w: no upgrade code for save format %d; use an older release to upgrade it first", ErrUnsupportedVersion, version)
	}
	return nil
}

// Upgrade applies steps until the save file reaches the current version.
// It returns the version the file was left at, which on error is the last
// version that was fully applied.
func (m *Migrator) Upgrade(ctx context.Context, version int) (int, error) {
	if version != m.current {
		slog.Warn("Save format does not match the required version", "found", version, "required", m.current)
	}

	for version < m.current {
		next, err := m.Step(ctx, version)
		if err != nil {
			return version, err
		}
		version = next
	}

	if err := m.Check(version); err != nil {
		return version, err
	}
	return version, nil
}

// Step backs up the save file and applies the single step registered for
// version. The data change and the version bump share one transaction.
func (m *Migrator) Step(ctx context.Context, version int) (int, error) {
	if err := m.Check(version); err != nil {
		return version, err
	}
	if version == m.current {
		return version, nil
	}
	step := m.steps[version]

	backup, err := m.backup(ctx, version)
	if err != nil {
		return version, &StepError{From: version, Err: fmt.Errorf("backup: %w", err)}
	}

	slog.Warn("Starting upgrade", "from", version, "to", version+1, "step", step.Description)

	err = m.db.WithContext(ctx).Connection(func(conn *gorm.DB) (err error) {
		// Table rebuilds drop parents that children still reference, which
		// must not cascade. The pragma is a no-op inside a transaction.
		if err := conn.Exec("PRAGMA foreign_keys = OFF").Error; err != nil {
			return err
		}
		// The pool has a single connection, so this one serves every request afterwards
		defer func() {
			if fkErr := conn.Exec("PRAGMA foreign_keys = ON").Error; fkErr != nil && err == nil {
				err = fmt.Errorf("re-enable foreign keys: %w", fkErr)
			}
		}()

		return conn.Transaction(func(tx *gorm.DB) error {
			stored, err := ReadVersion(tx)
			if err != nil {
				return err
			}
			if stored != version {
				return fmt.Errorf("%w: expected %d, found %d", ErrVersionChanged, version, stored)
			}

			// Old saves may already hold dangling rows; only the step's own are fatal
			before, err := foreignKeyViolations(tx)
			if err != nil {
				return err
			}
			if err := step.Apply(tx); err != nil {
				return err
			}
			if err := checkForeignKeys(tx, before); err != nil {
				return err
			}

			result := tx.Model(&models.StoreMetadata{}).
				Where("save_version = ?", version).
				Update("save_version", gorm.Expr("save_version + 1"))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected != 1 {
				return fmt.Errorf("%w: version bump touched %d rows", ErrVersionChanged, result.RowsAffected)
			}
			return nil
		})
	})
	if err != nil {
		metrics.MigrationStepsTotal.WithLabelValues(strconv.Itoa(version), "failed").Inc()
		slog.Error("Upgrade failed", "from", version, "backup", backup, "error", err)
		return version, &StepError{From: version, Backup: backup, Err: err}
	}

	metrics.MigrationStepsTotal.WithLabelValues(strconv.Itoa(version), "applied").Inc()
	slog.Warn("Upgrade done", "version", version+1)
	return version + 1, nil
}

// BackupPath returns the file a version is copied to before it is upgraded
func BackupPath(path string, version int) string {
	return fmt.Sprintf("%s.%d", path, version)
}

// backup copies the whole save file to <path>.<version>. VACUUM INTO writes a
// consistent copy through the open connection and refuses existing targets,
// so a stale backup from an earlier failed run is replaced first.
func (m *Migrator) backup(ctx context.Context, version int) (string, error) {
	if m.path == "" {
		slog.Warn("Save file has no path, skipping backup", "version", version)
		return "", nil
	}

	target := BackupPath(m.path, version)
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	slog.Warn("Backing up old save", "path", target)
	if err := m.db.WithContext(ctx).Exec("VACUUM INTO ?", target).Error; err != nil {
		return "", err
	}
	return target, nil
}

type foreignKeyViolation struct {
	Table  string `gorm:"column:table"`
	RowID  *int64 `gorm:"column:rowid"`
	Parent string `gorm:"column:parent"`
	FKID   int    `gorm:"column:fkid"`
}

// violationCounts maps "table -> parent" to the number of dangling rows
type violationCounts map[string]int

func foreignKeyViolations(tx *gorm.DB) (violationCounts, error) {
	var violations []foreignKeyViolation
	if err := tx.Raw("PRAGMA foreign_key_check").Scan(&violations).Error; err != nil {
		return nil, err
	}

	counts := violationCounts{}
	for _, v := range violations {
		counts[v.Table+" -> "+v.Parent]++
	}
	return counts, nil
}

// checkForeignKeys fails when a table holds more dangling references to a
// parent than it did before the step. Rebuilt tables get new rowids, so
// rows are compared by count rather than identity.
func checkForeignKeys(tx *gorm.DB, before violationCounts) error {
	after, err := foreignKeyViolations(tx)
	if err != nil {
		return err
	}

	for key, n := range after {
		if n > before[key] {
			return fmt.Errorf("foreign key check failed: %d new violations in %s", n-before[key], key)
		}
	}
	for key, n := range before {
		if after[key] < n {
			slog.Debug("Upgrade dropped dangling rows", "references", key, "rows", n-after[key])
		}
	}
	return nil
}
