package sqlbuilder

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect selects the SQL flavour used for statements whose syntax differs
// between the supported databases.
type Dialect int

const (
	MySQL Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// InsertMode decides what happens when an inserted row collides with an
// existing key.
type InsertMode int

const (
	InsertIgnore InsertMode = iota
	InsertReplace
	InsertUpdate
)

func (m InsertMode) String() string {
	switch m {
	case InsertIgnore:
		return "ignore"
	case InsertReplace:
		return "replace"
	case InsertUpdate:
		return "update"
	default:
		return fmt.Sprintf("insert_mode(%d)", int(m))
	}
}

func (d Dialect) insert(table string, mode InsertMode, columns []string) sq.InsertBuilder {
	var b sq.InsertBuilder
	switch mode {
	case InsertReplace:
		b = sq.Replace(table)
	case InsertUpdate:
		b = sq.Insert(table)
	default:
		if d == SQLite {
			b = sq.Insert(table).Options("OR", "IGNORE")
		} else {
			b = sq.Insert(table).Options("IGNORE")
		}
	}
	b = b.Columns(columns...)
	if mode == InsertUpdate {
		b = b.Suffix(d.upsertClause(columns))
	}
	return b
}

func (d Dialect) upsertClause(columns []string) string {
	sets := make([]string, len(columns))
	for i, c := range columns {
		if d == SQLite {
			sets[i] = c + "=excluded." + c
		} else {
			sets[i] = c + "=VALUES(" + c + ")"
		}
	}
	if d == SQLite {
		return "ON CONFLICT DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}
