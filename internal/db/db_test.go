package db

import (
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	q := `UPDATE decisions SET status=?, title='a?b' WHERE id=? AND version=?`
	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := `UPDATE decisions SET status=$1, title='a?b' WHERE id=$2 AND version=$3`
	if got := Postgres.Rebind(q); got != want {
		t.Fatalf("postgres rebind = %s", got)
	}
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != SQLite {
		t.Fatalf("dialect = %s", dialect)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if Path(dir) != filepath.Join(dir, ".consentline", "consentline.db") {
		t.Fatalf("unexpected path %s", Path(dir))
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatalf("expected dsn error")
	}
}
