package migrate_test

import (
	"testing"

	"teamline/internal/db"
	"teamline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if v, err := migrate.Version(conn); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	applied, err := migrate.Migrate(conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if applied == 0 {
		t.Fatalf("no migrations applied to a fresh database")
	}
	v, err := migrate.Version(conn)
	if err != nil || v == 0 {
		t.Fatalf("version after migrate = %d, %v", v, err)
	}

	// a second run finds nothing to do and leaves the version alone
	applied, err = migrate.Migrate(conn)
	if err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if applied != 0 {
		t.Fatalf("re-run applied %d migrations", applied)
	}
	if v2, _ := migrate.Version(conn); v2 != v {
		t.Fatalf("version drifted from %d to %d", v, v2)
	}
}
