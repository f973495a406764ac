package sqlstore

import (
	"fmt"
	"strings"

	"github.com/kilianp07/orderdispatch/core/store"
)

type dialect struct {
	driver  string
	serial  string
	decimal string
	nonNeg  func(col string) string
}

var (
	sqliteDialect = dialect{
		driver:  "sqlite",
		serial:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		decimal: "TEXT",
		nonNeg:  func(col string) string { return fmt.Sprintf("CAST(%s AS REAL) >= 0", col) },
	}
	postgresDialect = dialect{
		driver:  "pgx",
		serial:  "BIGSERIAL PRIMARY KEY",
		decimal: "NUMERIC(24,6)",
		nonNeg:  func(col string) string { return col + " >= 0" },
	}
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "pgx", "postgres", "postgresql":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// ddl returns the statements creating every table and index.
func (d dialect) ddl() []string {
	var stmts []string
	for _, t := range store.Schema {
		cols := []string{
			"seq " + d.serial,
			"id TEXT NOT NULL UNIQUE",
			"doc TEXT NOT NULL",
		}
		for _, k := range t.Keys {
			cols = append(cols, k+" TEXT")
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(cols, ",\n\t")))
		for _, k := range t.Keys {
			if t.IsUnique(k) {
				stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS ux_%s_%s ON %s (%s)", t.Name, k, t.Name, k))
			} else {
				stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS ix_%s_%s ON %s (%s)", t.Name, k, t.Name, k))
			}
		}
	}
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS sequences (
	name TEXT PRIMARY KEY,
	value BIGINT NOT NULL
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ledger (
	seq %s,
	id TEXT NOT NULL UNIQUE,
	order_id TEXT NOT NULL,
	product_id TEXT NOT NULL,
	dispatch_line_id TEXT,
	debit %s NOT NULL,
	credit %s NOT NULL,
	running_balance %s NOT NULL,
	description TEXT,
	created_at BIGINT NOT NULL,
	company_id TEXT,
	CHECK (%s AND %s)
)`, d.serial, d.decimal, d.decimal, d.decimal, d.nonNeg("debit"), d.nonNeg("credit")),
		"DROP INDEX IF EXISTS ix_ledger_order_product",
		"CREATE INDEX IF NOT EXISTS ix_ledger_replay ON ledger (order_id, product_id, created_at)",
	)
	return stmts
}
