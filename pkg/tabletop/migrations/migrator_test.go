package migrations

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/mikepea/tabletop/pkg/tabletop/database"
	"github.com/mikepea/tabletop/pkg/tabletop/metrics"
	"github.com/mikepea/tabletop/pkg/tabletop/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openFile(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := database.Open(path, logger.Silent)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	t.Cleanup(func() { database.Close(db) })
	return db
}

// setupLegacyStore writes the version 13 fixture to a temp save file
func setupLegacyStore(t *testing.T) (*gorm.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planar.sqlite")
	db := openFile(t, path)

	script, err := os.ReadFile("testdata/v13.sql")
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}
	if err := db.Exec(string(script)).Error; err != nil {
		t.Fatalf("Failed to load fixture: %v", err)
	}
	return db, path
}

// setupStore creates a save file with the current schema stamped with version
func setupStore(t *testing.T, version int) (*gorm.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planar.sqlite")
	db := openFile(t, path)

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if err := db.Create(&models.StoreMetadata{SaveVersion: version, SecretToken: []byte("secret")}).Error; err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}
	return db, path
}

func tableNames(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var names []string
	err := db.Raw(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`).Scan(&names).Error
	if err != nil {
		t.Fatalf("Failed to list tables: %v", err)
	}
	return names
}

func columnNames(t *testing.T, db *gorm.DB, table string) []string {
	t.Helper()
	var names []string
	if err := db.Raw(`SELECT name FROM pragma_table_info(?)`, table).Scan(&names).Error; err != nil {
		t.Fatalf("Failed to list columns of %s: %v", table, err)
	}
	slices.Sort(names)
	return names
}

func TestUpgradeFromOldestSupportedVersion(t *testing.T) {
	db, path := setupLegacyStore(t)
	ctx := context.Background()

	version, err := New(db, path).Upgrade(ctx, OldestSupportedVersion)
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if version != CurrentVersion {
		t.Errorf("Expected version %d, got %d", CurrentVersion, version)
	}

	stored, err := ReadVersion(db)
	if err != nil {
		t.Fatalf("Failed to read version: %v", err)
	}
	if stored != CurrentVersion {
		t.Errorf("Expected stored version %d, got %d", CurrentVersion, stored)
	}

	for v := OldestSupportedVersion; v < CurrentVersion; v++ {
		backup := BackupPath(path, v)
		if _, err := os.Stat(backup); err != nil {
			t.Errorf("Expected backup %s: %v", backup, err)
			continue
		}

		// each backup holds the file as it was before its step
		copyDB := openFile(t, backup)
		got, err := ReadVersion(copyDB)
		if err != nil {
			t.Errorf("Failed to read version of %s: %v", backup, err)
			continue
		}
		if got != v {
			t.Errorf("Expected backup %s at version %d, got %d", backup, v, got)
		}
	}
}

func TestUpgradeRewritesLegacyData(t *testing.T) {
	db, path := setupLegacyStore(t)
	if _, err := New(db, path).Upgrade(context.Background(), OldestSupportedVersion); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}

	t.Run("orphan geometry is dropped", func(t *testing.T) {
		var count int64
		db.Model(&models.Rect{}).Count(&count)
		if count != 1 {
			t.Errorf("Expected 1 rect, got %d", count)
		}
	})

	t.Run("multi lines become open polygons", func(t *testing.T) {
		if db.Migrator().HasTable("multi_lines") {
			t.Error("Expected multi_lines to be dropped")
		}

		var polygon models.Polygon
		if err := db.First(&polygon, "shape_id = ?", "s2").Error; err != nil {
			t.Fatalf("Expected polygon for s2: %v", err)
		}
		if !polygon.OpenPolygon {
			t.Error("Expected converted polygon to be open")
		}
		if polygon.LineWidth != 3 {
			t.Errorf("Expected line width 3, got %d", polygon.LineWidth)
		}
		if polygon.Vertices != "[[0,0],[1,1]]" {
			t.Errorf("Expected vertices to be copied from points, got %s", polygon.Vertices)
		}

		var shape models.Shape
		db.First(&shape, "uuid = ?", "s2")
		if shape.Type != "polygon" {
			t.Errorf("Expected shape type polygon, got %s", shape.Type)
		}
	})

	t.Run("shapes get default badges", func(t *testing.T) {
		var shape models.Shape
		db.First(&shape, "uuid = ?", "s1")
		if shape.Badge != 1 || shape.ShowBadge {
			t.Errorf("Expected badge 1 hidden, got %d %v", shape.Badge, shape.ShowBadge)
		}
		if shape.GroupID == nil || *shape.GroupID != "g1" {
			t.Errorf("Expected group g1 to survive, got %v", shape.GroupID)
		}
	})

	t.Run("layers move onto ground floors", func(t *testing.T) {
		var floors []models.Floor
		db.Order("location_id").Find(&floors)
		if len(floors) != 2 {
			t.Fatalf("Expected 2 floors, got %d", len(floors))
		}
		for _, floor := range floors {
			if floor.Name == nil || *floor.Name != "ground" || floor.Index != 0 {
				t.Errorf("Unexpected floor %+v", floor)
			}
		}

		var layer models.Layer
		db.First(&layer, 2)
		if layer.FloorID != floors[1].ID {
			t.Errorf("Expected layer 2 on floor %d, got %d", floors[1].ID, layer.FloorID)
		}
	})

	t.Run("creators become DMs", func(t *testing.T) {
		var rows []models.PlayerRoom
		db.Order("player_id").Find(&rows)
		if len(rows) != 2 {
			t.Fatalf("Expected 2 player_rooms rows, got %d", len(rows))
		}

		gm, player := rows[0], rows[1]
		if gm.Role != models.RoleDM || gm.ActiveLocationID == nil || *gm.ActiveLocationID != 2 {
			t.Errorf("Expected creator as DM in the Vault, got %+v", gm)
		}
		if player.Role != models.RolePlayer || player.ActiveLocationID == nil || *player.ActiveLocationID != 1 {
			t.Errorf("Expected player in the Entrance, got %+v", player)
		}
	})

	t.Run("locations are numbered per room", func(t *testing.T) {
		var locations []models.Location
		db.Order("id").Find(&locations)
		for i, location := range locations {
			if location.Index != i {
				t.Errorf("Expected location %d at index %d, got %d", location.ID, i, location.Index)
			}
			if location.UnitSizeUnit != "ft" {
				t.Errorf("Expected unit ft, got %s", location.UnitSizeUnit)
			}
		}
		if !db.Migrator().HasIndex(&models.Location{}, "idx_locations_room_index") {
			t.Error("Expected unique location index")
		}
	})

	t.Run("untouched rows survive", func(t *testing.T) {
		var option models.LocationUserOption
		if err := db.First(&option, 1).Error; err != nil {
			t.Fatalf("Expected location option: %v", err)
		}
		if option.Zoom != 1.5 {
			t.Errorf("Expected zoom 1.5, got %v", option.Zoom)
		}

		var group models.Group
		db.First(&group, "uuid = ?", "g1")
		if !slices.Equal([]string(group.CharacterSet), []string{"goblin"}) {
			t.Errorf("Expected character set [goblin], got %v", group.CharacterSet)
		}
	})
}

func TestUpgradeMatchesFreshSchema(t *testing.T) {
	upgraded, path := setupLegacyStore(t)
	if _, err := New(upgraded, path).Upgrade(context.Background(), OldestSupportedVersion); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	fresh, _ := setupStore(t, CurrentVersion)

	freshTables := tableNames(t, fresh)
	if got := tableNames(t, upgraded); !slices.Equal(got, freshTables) {
		t.Fatalf("Expected tables %v, got %v", freshTables, got)
	}

	for _, table := range freshTables {
		want := columnNames(t, fresh, table)
		got := columnNames(t, upgraded, table)
		if !slices.Equal(got, want) {
			t.Errorf("Table %s: expected columns %v, got %v", table, want, got)
		}
	}
}

func TestUpgradeVisitsEachVersionOnce(t *testing.T) {
	db, path := setupStore(t, 1)

	var seen []int
	record := func(tx *gorm.DB) error {
		v, err := ReadVersion(tx)
		seen = append(seen, v)
		return err
	}
	steps := Registry{
		1: {"one", record},
		2: {"two", record},
		3: {"three", record},
	}

	version, err := NewWithRegistry(db, path, steps, 4).Upgrade(context.Background(), 1)
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if version != 4 {
		t.Errorf("Expected version 4, got %d", version)
	}
	if !slices.Equal(seen, []int{1, 2, 3}) {
		t.Errorf("Expected steps at 1, 2, 3, got %v", seen)
	}
}

func TestFailedStepLeavesFileUnchanged(t *testing.T) {
	db, path := setupStore(t, 1)
	failed := testutil.ToFloat64(metrics.MigrationStepsTotal.WithLabelValues("1", "failed"))

	steps := Registry{
		1: {"create then fail", func(tx *gorm.DB) error {
			if err := tx.Exec(`CREATE TABLE "widgets" ("id" INTEGER)`).Error; err != nil {
				return err
			}
			return errors.New("boom")
		}},
	}

	version, err := NewWithRegistry(db, path, steps, 2).Upgrade(context.Background(), 1)
	if err == nil {
		t.Fatal("Expected upgrade to fail")
	}
	if version != 1 {
		t.Errorf("Expected version 1 after failure, got %d", version)
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Expected StepError, got %T", err)
	}
	if stepErr.From != 1 || stepErr.Backup != BackupPath(path, 1) {
		t.Errorf("Unexpected step error %+v", stepErr)
	}

	if stored, _ := ReadVersion(db); stored != 1 {
		t.Errorf("Expected stored version 1, got %d", stored)
	}
	if db.Migrator().HasTable("widgets") {
		t.Error("Expected table created by the failed step to be rolled back")
	}
	if got := testutil.ToFloat64(metrics.MigrationStepsTotal.WithLabelValues("1", "failed")); got != failed+1 {
		t.Errorf("Expected failed counter to increase by 1, got %v -> %v", failed, got)
	}
}

func TestStepRejectsBrokenReferences(t *testing.T) {
	db, path := setupStore(t, 1)

	steps := Registry{
		1: {"orphan shape", func(tx *gorm.DB) error {
			return tx.Exec(`INSERT INTO "shapes" ("uuid", "layer_id", "type_", "x", "y") VALUES ('orphan', 999, 'rect', 0, 0)`).Error
		}},
	}

	_, err := NewWithRegistry(db, path, steps, 2).Step(context.Background(), 1)
	if err == nil {
		t.Fatal("Expected foreign key check to fail the step")
	}

	var count int64
	db.Model(&models.Shape{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected orphan shape to be rolled back, got %d shapes", count)
	}
	if stored, _ := ReadVersion(db); stored != 1 {
		t.Errorf("Expected stored version 1, got %d", stored)
	}
}

func TestUpgradeToleratesDanglingLegacyRows(t *testing.T) {
	db, path := setupLegacyStore(t)

	// older releases did not enforce foreign keys, so saves in the wild hold rows like this
	db.Exec("PRAGMA foreign_keys = OFF")
	if err := db.Exec(`INSERT INTO "shape_owners" ("id", "shape_id", "user_id") VALUES (2, 's1', 9999)`).Error; err != nil {
		t.Fatalf("Failed to insert dangling owner: %v", err)
	}
	db.Exec("PRAGMA foreign_keys = ON")

	version, err := New(db, path).Upgrade(context.Background(), OldestSupportedVersion)
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if version != CurrentVersion {
		t.Errorf("Expected version %d, got %d", CurrentVersion, version)
	}

	var owners int64
	db.Model(&models.ShapeOwner{}).Count(&owners)
	if owners != 2 {
		t.Errorf("Expected both owner rows to survive, got %d", owners)
	}
}

func TestStepRestoresForeignKeys(t *testing.T) {
	tests := []struct {
		name  string
		apply StepFunc
	}{
		{"applied", func(tx *gorm.DB) error { return nil }},
		{"failed", func(tx *gorm.DB) error { return errors.New("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, path := setupStore(t, 1)
			NewWithRegistry(db, path, Registry{1: {tt.name, tt.apply}}, 2).Step(context.Background(), 1)

			var enabled int
			if err := db.Raw("PRAGMA foreign_keys").Scan(&enabled).Error; err != nil {
				t.Fatalf("Failed to read pragma: %v", err)
			}
			if enabled != 1 {
				t.Error("Expected foreign keys to be enforced after the step")
			}
		})
	}
}

func TestBackupReplacesStaleCopy(t *testing.T) {
	db, path := setupStore(t, 1)
	if err := os.WriteFile(BackupPath(path, 1), []byte("stale"), 0o600); err != nil {
		t.Fatalf("Failed to write stale backup: %v", err)
	}

	steps := Registry{1: {"noop", func(tx *gorm.DB) error { return nil }}}
	if _, err := NewWithRegistry(db, path, steps, 2).Step(context.Background(), 1); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	backup := openFile(t, BackupPath(path, 1))
	if v, err := ReadVersion(backup); err != nil || v != 1 {
		t.Errorf("Expected backup at version 1, got %d (%v)", v, err)
	}
}

func TestUpgradeRefusesUnsupportedVersion(t *testing.T) {
	db, path := setupStore(t, OldestSupportedVersion-1)

	_, err := New(db, path).Upgrade(context.Background(), OldestSupportedVersion-1)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("Expected ErrUnsupportedVersion, got %v", err)
	}
	if _, err := os.Stat(BackupPath(path, OldestSupportedVersion-1)); !os.IsNotExist(err) {
		t.Error("Expected no backup for an unsupported version")
	}
	if stored, _ := ReadVersion(db); stored != OldestSupportedVersion-1 {
		t.Errorf("Expected stored version to be untouched, got %d", stored)
	}
}

func TestCheck(t *testing.T) {
	m := NewWithRegistry(nil, "", DefaultRegistry(), CurrentVersion)

	tests := []struct {
		name    string
		version int
		wantErr error
	}{
		{"current", CurrentVersion, nil},
		{"oldest supported", OldestSupportedVersion, nil},
		{"previous", CurrentVersion - 1, nil},
		{"too old", OldestSupportedVersion - 1, ErrUnsupportedVersion},
		{"zero", 0, ErrUnsupportedVersion},
		{"future", CurrentVersion + 1, ErrFutureVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Check(tt.version)
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultRegistryIsContiguous(t *testing.T) {
	steps := DefaultRegistry()
	for v := OldestSupportedVersion; v < CurrentVersion; v++ {
		step, ok := steps[v]
		if !ok {
			t.Errorf("Missing step for version %d", v)
			continue
		}
		if step.Description == "" || step.Apply == nil {
			t.Errorf("Incomplete step for version %d", v)
		}
	}
	if len(steps) != CurrentVersion-OldestSupportedVersion {
		t.Errorf("Expected %d steps, got %d", CurrentVersion-OldestSupportedVersion, len(steps))
	}
}
