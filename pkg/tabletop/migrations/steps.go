package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

// DefaultRegistry returns the upgrade steps shipped with this release
func DefaultRegistry() Registry {
	return Registry{
		13: {"drop location_user_options.active_filters", dropActiveFilters},
		14: {"rebuild shape geometry tables with cascading shape references", cascadeShapeGeometry},
		15: {"add rooms.is_locked", addRoomLock},
		16: {"add locations.unit_size_unit", addUnitSizeUnit},
		17: {"fold multi_lines into open polygons", foldMultiLines},
		18: {"add users.email", addUserEmail},
		19: {"introduce floors and move layers onto them", introduceFloors},
		20: {"add shape badges", addShapeBadges},
		21: {"add users.invert_alt", addInvertAlt},
		22: {"create markers", createMarkers},
		23: {"add shape access flags", addAccessFlags},
		24: {"drop creator player_rooms rows", dropCreatorPlayerRooms},
		25: {"move room locations onto player_rooms and order locations", movePlayerLocations},
	}
}

func execAll(tx *gorm.DB, statements ...string) error {
	for _, stmt := range statements {
		if err := tx.Exec(stmt).Error; err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// rebuildTable replaces table with a new definition, copying rows through a
// temporary table. selectCopy selects the rows to keep from _<table>.
func rebuildTable(tx *gorm.DB, table, create, selectCopy string) error {
	return execAll(tx,
		fmt.Sprintf(`CREATE TEMPORARY TABLE "_%s" AS SELECT * FROM "%s"`, table, table),
		fmt.Sprintf(`DROP TABLE "%s"`, table),
		create,
		fmt.Sprintf(`INSERT INTO "%s" %s`, table, selectCopy),
		fmt.Sprintf(`DROP TABLE "_%s"`, table),
	)
}

func dropActiveFilters(tx *gorm.DB) error {
	return execAll(tx, `ALTER TABLE "location_user_options" DROP COLUMN "active_filters"`)
}

func cascadeShapeGeometry(tx *gorm.DB) error {
	tables := []struct {
		name   string
		create string
	}{
		{"rects", `CREATE TABLE "rects" ("shape_id" TEXT NOT NULL PRIMARY KEY, "width" REAL NOT NULL, "height" REAL NOT NULL, FOREIGN KEY ("shape_id") REFERENCES "shapes" ("uuid") ON DELETE CASCADE)`},
		{"circles", `CREATE TABLE "circles" ("shape_id" TEXT NOT NULL PRIMARY KEY, "radius" REAL NOT NULL, FOREIGN KEY ("shape_id") REFERENCES "shapes" ("uuid") ON DELETE CASCADE)`},
		{"polygons", `CREATE TABLE "polygons" ("shape_id" TEXT NOT NULL PRIMARY KEY, "vertices" TEXT NOT NULL, FOREIGN KEY ("shape_id") REFERENCES "shapes" ("uuid") ON DELETE CASCADE)`},
		{"multi_lines", `CREATE TABLE "multi_lines" ("shape_id" TEXT NOT NULL PRIMARY KEY, "line_width" INTEGER NOT NULL, "points" TEXT NOT NULL, FOREIGN KEY ("shape_id") REFERENCES "shapes" ("uuid") ON DELETE CASCADE)`},
	}

	for _, t := range tables {
		// geometry rows whose shape is gone are dropped
		copyRows := fmt.Sprintf(`SELECT "_%s".* FROM "_%s" INNER JOIN "shapes" ON "shapes"."uuid" = "_%s"."shape_id"`, t.name, t.name, t.name)
		if err := rebuildTable(tx, t.name, t.create, copyRows); err != nil {
			return err
		}
	}
	return nil
}

func addRoomLock(tx *gorm.DB) error {
	return execAll(tx, `ALTER TABLE "rooms" ADD COLUMN "is_locked" NUMERIC NOT NULL DEFAULT false`)
}

func addUnitSizeUnit(tx *gorm.DB) error {
	return execAll(tx, `ALTER TABLE "locations" ADD COLUMN "unit_size_unit" TEXT NOT NULL DEFAULT 'ft'`)
}

func foldMultiLines(tx *gorm.DB) error {
	return execAll(tx,
		`ALTER TABLE "polygons" ADD COLUMN "line_width" INTEGER NOT NULL DEFAULT 2`,
		`ALTER TABLE "polygons" ADD COLUMN "open_polygon" NUMERIC NOT NULL DEFAULT false`,
		`INSERT INTO "polygons" ("shape_id", "vertices", "line_width", "open_polygon") SELECT "shape_id", "points", "line_width", true FROM "multi_lines"`,
		`DROP TABLE "multi_lines"`,
		`UPDATE "shapes" SET "type_" = 'polygon' WHERE "type_" = 'multiline'`,
	)
}

func addUserEmail(tx *gorm.DB) error {
	return execAll(tx, `ALTER TABLE "users" ADD COLUMN "email" TEXT`)
}

// introduceFloors gives every location a ground floor and re-parents layers
// from their location to that floor. Layer ids are kept so shapes stay valid.
func introduceFloors(tx *gorm.DB) error {
	err := execAll(tx,
		`CREATE TABLE "floors" ("id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT, "location_id" INTEGER NOT NULL, "name" TEXT, "index" INTEGER NOT NULL, FOREIGN KEY ("location_id") REFERENCES "locations" ("id") ON DELETE CASCADE)`,
		`INSERT INTO "floors" ("location_id", "name", "index") SELECT "id", 'ground', 0 FROM "locations"`,
	)
	if err != nil {
		return err
	}

	return rebuildTable(tx, "layers",
		`CREATE TABLE "layers" ("id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT, "floor_id" INTEGER NOT NULL, "name" TEXT NOT NULL, "type_" TEXT NOT NULL, "player_visible" NUMERIC NOT NULL, "player_editable" NUMERIC NOT NULL, "selectable" NUMERIC NOT NULL, "index" INTEGER NOT NULL, FOREIGN KEY ("floor_id") REFERENCES "floors" ("id") ON DELETE CASCADE)`,
		`("id", "floor_id", "name", "type_", "player_visible", "player_editable", "selectable", "index") SELECT "_layers"."id", "floors"."id", "_layers"."name", "_layers"."type_", "_layers"."player_visible", "_layers"."player_editable", "_layers"."selectable", "_layers"."index" FROM "_layers" INNER JOIN "floors" ON "floors"."location_id" = "_layers"."location_id"`,
	)
}

func addShapeBadges(tx *gorm.DB) error {
	return execAll(tx,
		`ALTER TABLE "shapes" ADD COLUMN "badge" INTEGER NOT NULL DEFAULT 1`,
		`ALTER TABLE "shapes" ADD COLUMN "show_badge" NUMERIC NOT NULL DEFAULT false`,
	)
}

func addInvertAlt(tx *gorm.DB) error {
	return execAll(tx, `ALTER TABLE "users" ADD COLUMN "invert_alt" NUMERIC NOT NULL DEFAULT false`)
}

func createMarkers(tx *gorm.DB) error {
	return execAll(tx,
		`CREATE TABLE "markers" ("id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT, "shape_id" TEXT NOT NULL, "user_id" INTEGER NOT NULL, "location_id" INTEGER NOT NULL, FOREIGN KEY ("shape_id") REFERENCES "shapes" ("uuid") ON DELETE CASCADE, FOREIGN KEY ("user_id") REFERENCES "users" ("id") ON DELETE CASCADE, FOREIGN KEY ("location_id") REFERENCES "locations" ("id") ON DELETE CASCADE)`,
	)
}

func addAccessFlags(tx *gorm.DB) error {
	return execAll(tx,
		`ALTER TABLE "shape_owners" ADD COLUMN "edit_access" NUMERIC NOT NULL DEFAULT true`,
		`ALTER TABLE "shape_owners" ADD COLUMN "vision_access" NUMERIC NOT NULL DEFAULT true`,
		`ALTER TABLE "shapes" ADD COLUMN "default_edit_access" NUMERIC NOT NULL DEFAULT false`,
		`ALTER TABLE "shapes" ADD COLUMN "default_vision_access" NUMERIC NOT NULL DEFAULT false`,
	)
}

// dropCreatorPlayerRooms removes rows that only duplicated room ownership.
// Creators get a proper DM row in the next step.
func dropCreatorPlayerRooms(tx *gorm.DB) error {
	return execAll(tx,
		`DELETE FROM "player_rooms" WHERE "id" IN (SELECT "pr"."id" FROM "player_rooms" "pr" INNER JOIN "rooms" "r" ON "r"."id" = "pr"."room_id" WHERE "r"."creator_id" = "pr"."player_id")`,
	)
}

// movePlayerLocations replaces the room-wide player_location/dm_location
// names with a per-player active location reference, re-adds creators as DMs
// and numbers locations within their room.
func movePlayerLocations(tx *gorm.DB) error {
	return execAll(tx,
		`ALTER TABLE "player_rooms" ADD COLUMN "active_location_id" INTEGER REFERENCES "locations" ("id") ON DELETE CASCADE`,
		`ALTER TABLE "player_rooms" ADD COLUMN "role" INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE "locations" ADD COLUMN "index" INTEGER NOT NULL DEFAULT 0`,

		`UPDATE "player_rooms" SET "active_location_id" = (SELECT "l"."id" FROM "rooms" "r" INNER JOIN "locations" "l" ON "l"."room_id" = "r"."id" WHERE "l"."name" = "r"."player_location" AND "r"."id" = "player_rooms"."room_id" ORDER BY "l"."id" LIMIT 1)`,
		`INSERT INTO "player_rooms" ("role", "player_id", "room_id", "active_location_id") SELECT 1, "r"."creator_id", "r"."id", (SELECT "l"."id" FROM "locations" "l" WHERE "l"."room_id" = "r"."id" AND "l"."name" = "r"."dm_location" ORDER BY "l"."id" LIMIT 1) FROM "rooms" "r"`,
		`UPDATE "player_rooms" SET "active_location_id" = (SELECT MIN("l"."id") FROM "locations" "l" WHERE "l"."room_id" = "player_rooms"."room_id") WHERE "active_location_id" IS NULL`,

		`UPDATE "locations" SET "index" = (SELECT COUNT(*) FROM "locations" "l" WHERE "l"."room_id" = "locations"."room_id" AND "l"."id" < "locations"."id")`,
		`CREATE UNIQUE INDEX "idx_locations_room_index" ON "locations" ("room_id", "index")`,

		`ALTER TABLE "rooms" DROP COLUMN "player_location"`,
		`ALTER TABLE "rooms" DROP COLUMN "dm_location"`,
	)
}
