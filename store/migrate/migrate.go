// Package migrate implements the schema manager of spec.md §4.11 /
// §7 SchemaUpgradeNeeded: an ordered list of numbered migrations, each
// recorded in a version table on success, applied under one of three
// startup policies depending on what the manager finds in the
// database.
package migrate

import (
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// Migration is one numbered, idempotent schema step.
type Migration struct {
	Version int
	Name    string
	Apply   func(conn *sqlite.Conn) error
}

// legacyVersionTable is the name a previous, unrelated migration
// framework used for its own bookkeeping; whenever the manager finds
// it, it drops it and clears SchemaVersion, so the database is upgraded
// to head from scratch (spec.md §4.11's "legacy version-table from a
// previous framework" policy).
const legacyVersionTable = "alembic_version"

// All is the ordered migration list. Keep it append-only: inserting or
// reordering an entry would change what a partially-migrated database
// does next.
var All = []Migration{
	{Version: 1, Name: "core tables", Apply: func(conn *sqlite.Conn) error {
		return sqlitex.ExecScript(conn, coreTablesSQL)
	}},
	{Version: 2, Name: "category table and thread category column", Apply: func(conn *sqlite.Conn) error {
		return sqlitex.ExecScript(conn, categorySQL)
	}},
	{Version: 3, Name: "secondary indexes", Apply: func(conn *sqlite.Conn) error {
		return sqlitex.ExecScript(conn, indexSQL)
	}},
}

// HeadVersion is the version applying every migration in All leaves
// the database at.
func HeadVersion() int {
	v := 0
	for _, m := range All {
		if m.Version > v {
			v = m.Version
		}
	}
	return v
}

// CurrentVersion returns the highest applied version recorded in the
// version table, or 0 if the table is empty or absent.
func CurrentVersion(conn *sqlite.Conn) (int, error) {
	if !tableExists(conn, "SchemaVersion") {
		return 0, nil
	}
	var version int64
	stmt := conn.Prep(`SELECT COALESCE(MAX(Version), 0) AS V FROM SchemaVersion;`)
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	version = stmt.GetInt64("V")
	stmt.Reset()
	return int(version), nil
}

func tableExists(conn *sqlite.Conn, name string) bool {
	stmt := conn.Prep(`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = $name;`)
	stmt.SetText("$name", name)
	has, err := stmt.Step()
	stmt.Reset()
	return err == nil && has
}

// Apply runs the three startup policies of spec.md §4.11: an empty
// database is brought straight to head; a database carrying a legacy
// version table has that table dropped and its SchemaVersion rows
// cleared, and is brought to head; otherwise only migrations newer than
// CurrentVersion run.
func Apply(conn *sqlite.Conn) error {
	if err := sqlitex.ExecTransient(conn, `CREATE TABLE IF NOT EXISTS SchemaVersion (Version INTEGER NOT NULL);`, nil); err != nil {
		return err
	}

	if tableExists(conn, legacyVersionTable) {
		if err := sqlitex.ExecTransient(conn, `DROP TABLE `+legacyVersionTable+`;`, nil); err != nil {
			return err
		}
		if err := sqlitex.ExecTransient(conn, `DELETE FROM SchemaVersion;`, nil); err != nil {
			return err
		}
	}

	current, err := CurrentVersion(conn)
	if err != nil {
		return err
	}

	for _, m := range All {
		if m.Version <= current {
			continue
		}
		if err := m.Apply(conn); err != nil {
			return err
		}
		stmt := conn.Prep(`INSERT INTO SchemaVersion (Version) VALUES ($version);`)
		stmt.SetInt64("$version", int64(m.Version))
		if _, err := stmt.Step(); err != nil {
			return err
		}
	}
	return nil
}
