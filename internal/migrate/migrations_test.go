package migrate_test

import (
	"testing"

	"consentline/internal/db"
	"consentline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(conn, dialect); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
	var v int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&v); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if v != 1 {
		t.Fatalf("schema version = %d, want 1", v)
	}
	for _, table := range []string{"decisions", "participants", "proposals", "ballots", "comments", "decision_events"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("table %s: %v", table, err)
		}
	}
}

func TestMigrateUnknownDialect(t *testing.T) {
	conn, _, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn, db.Dialect("mysql")); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
}
