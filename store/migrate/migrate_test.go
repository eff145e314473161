package migrate

import (
	"testing"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

func openMemConn(t *testing.T) *sqlite.Conn {
	t.Helper()
	conn, err := sqlite.OpenConn(":memory:", 0)
	if err != nil {
		t.Fatalf("OpenConn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestApplyOnEmptyDatabaseReachesHead(t *testing.T) {
	conn := openMemConn(t)
	if err := Apply(conn); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	v, err := CurrentVersion(conn)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if v != HeadVersion() {
		t.Fatalf("version = %d, want head %d", v, HeadVersion())
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	conn := openMemConn(t)
	if err := Apply(conn); err != nil {
		t.Fatalf("Apply (first): %v", err)
	}
	if err := Apply(conn); err != nil {
		t.Fatalf("Apply (second): %v", err)
	}
	v, err := CurrentVersion(conn)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if v != HeadVersion() {
		t.Fatalf("version = %d, want head %d", v, HeadVersion())
	}
}

func TestApplyDropsLegacyVersionTable(t *testing.T) {
	conn := openMemConn(t)
	if err := sqlitex.ExecScript(conn, `CREATE TABLE alembic_version (version_num TEXT);`); err != nil {
		t.Fatalf("seeding legacy table: %v", err)
	}

	if err := Apply(conn); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if tableExists(conn, legacyVersionTable) {
		t.Fatal("legacy version table still present after Apply")
	}
	v, err := CurrentVersion(conn)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if v != HeadVersion() {
		t.Fatalf("version = %d, want head %d", v, HeadVersion())
	}
}

func TestApplyOnlyRunsNewerMigrations(t *testing.T) {
	conn := openMemConn(t)
	if err := All[0].Apply(conn); err != nil {
		t.Fatalf("seeding migration 1: %v", err)
	}
	if err := sqlitex.ExecTransient(conn, `CREATE TABLE IF NOT EXISTS SchemaVersion (Version INTEGER NOT NULL); INSERT INTO SchemaVersion (Version) VALUES (1);`, nil); err != nil {
		t.Fatalf("seeding schema version: %v", err)
	}

	if err := Apply(conn); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	v, err := CurrentVersion(conn)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if v != HeadVersion() {
		t.Fatalf("version = %d, want head %d", v, HeadVersion())
	}
}

func TestHeadVersionMatchesHighestMigration(t *testing.T) {
	max := 0
	for _, m := range All {
		if m.Version > max {
			max = m.Version
		}
	}
	if HeadVersion() != max {
		t.Fatalf("HeadVersion() = %d, want %d", HeadVersion(), max)
	}
}
