package db

import (
	"fmt"
	"strings"
)

// Dialect holds the SQL differences between the supported servers.
type Dialect interface {
	// Name returns the dialect name (sqlserver or postgres).
	Name() string

	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// Quote quotes an identifier.
	Quote(ident string) string

	// MaxParams is the bind parameter limit per statement.
	MaxParams() int

	// MaxRowsPerInsert is the row limit of a multi-row VALUES clause.
	MaxRowsPerInsert() int

	// Truncate returns the statement that empties a table.
	Truncate(table string) string

	// UpsertValues returns a keyed upsert of one parameterised row:
	// update the non-key columns on match, insert on no match.
	UpsertValues(table string, keys, cols []string) string

	// UpsertSelect returns a keyed upsert whose source is a SELECT that
	// yields insertCols in order. Only updateCols are set on match.
	UpsertSelect(table string, keys, insertCols, updateCols []string, query string) string
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlserver", "mssql":
		return SQLServer{}, nil
	case "pgx", "postgres":
		return Postgres{}, nil
	}
	return nil, fmt.Errorf("unsupported driver: %s", driver)
}

// SQLServer is the dialect for Microsoft SQL Server.
type SQLServer struct{}

// Name returns "sqlserver".
func (SQLServer) Name() string { return "sqlserver" }

// Placeholder returns the go-mssqldb positional parameter @pN.
func (SQLServer) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// Quote brackets an identifier.
func (SQLServer) Quote(ident string) string { return "[" + strings.ReplaceAll(ident, "]", "]]") + "]" }

// MaxParams stays under the server's limit of 2100 parameters per request.
func (SQLServer) MaxParams() int { return 2000 }

// MaxRowsPerInsert is the row limit of a VALUES list.
func (SQLServer) MaxRowsPerInsert() int { return 1000 }

// Truncate returns a TRUNCATE TABLE statement.
func (SQLServer) Truncate(table string) string {
	return "TRUNCATE TABLE " + table
}

// UpsertValues returns a MERGE of one parameterised row keyed by keys.
func (d SQLServer) UpsertValues(table string, keys, cols []string) string {
	src := make([]string, len(cols))
	for i, c := range cols {
		src[i] = fmt.Sprintf("%s AS %s", d.Placeholder(i+1), d.Quote(c))
	}
	return d.merge(table, keys, cols, nonKeys(cols, keys), "SELECT "+strings.Join(src, ", "))
}

// UpsertSelect returns a MERGE whose source is query.
func (d SQLServer) UpsertSelect(table string, keys, insertCols, updateCols []string, query string) string {
	return d.merge(table, keys, insertCols, updateCols, query)
}

func (d SQLServer) merge(table string, keys, cols, update []string, source string) string {
	on := make([]string, len(keys))
	for i, k := range keys {
		on[i] = fmt.Sprintf("t.%s = s.%s", d.Quote(k), d.Quote(k))
	}
	set := make([]string, len(update))
	for i, c := range update {
		set[i] = fmt.Sprintf("%s = s.%s", d.Quote(c), d.Quote(c))
	}
	ins := make([]string, len(cols))
	vals := make([]string, len(cols))
	for i, c := range cols {
		ins[i] = d.Quote(c)
		vals[i] = "s." + d.Quote(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s AS t USING (%s) AS s (%s) ON %s",
		table, source, strings.Join(ins, ", "), strings.Join(on, " AND "))
	if len(set) > 0 {
		fmt.Fprintf(&b, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(set, ", "))
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		strings.Join(ins, ", "), strings.Join(vals, ", "))
	return b.String()
}

// Postgres is the dialect for PostgreSQL via pgx.
type Postgres struct{}

// Name returns "postgres".
func (Postgres) Name() string { return "postgres" }

// Placeholder returns the positional parameter $N.
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Quote double-quotes an identifier.
func (Postgres) Quote(ident string) string { return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"` }

// MaxParams is the protocol limit on bind parameters.
func (Postgres) MaxParams() int { return 65535 }

// MaxRowsPerInsert caps the rows in one INSERT.
func (Postgres) MaxRowsPerInsert() int { return 5000 }

// Truncate returns a TRUNCATE TABLE statement.
func (Postgres) Truncate(table string) string {
	return "TRUNCATE TABLE " + table
}

// UpsertValues returns an INSERT ... ON CONFLICT of one parameterised row.
func (d Postgres) UpsertValues(table string, keys, cols []string) string {
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = d.Placeholder(i + 1)
	}
	return d.onConflict(table, keys, cols, nonKeys(cols, keys), "VALUES ("+strings.Join(ph, ", ")+")")
}

// UpsertSelect returns an INSERT ... SELECT with ON CONFLICT on keys.
func (d Postgres) UpsertSelect(table string, keys, insertCols, updateCols []string, query string) string {
	return d.onConflict(table, keys, insertCols, updateCols, query)
}

func (d Postgres) onConflict(table string, keys, cols, update []string, source string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	qk := make([]string, len(keys))
	for i, k := range keys {
		qk[i] = d.Quote(k)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) %s ON CONFLICT (%s)",
		table, strings.Join(quoted, ", "), source, strings.Join(qk, ", "))
	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}
	set := make([]string, len(update))
	for i, c := range update {
		set[i] = fmt.Sprintf("%s = EXCLUDED.%s", d.Quote(c), d.Quote(c))
	}
	fmt.Fprintf(&b, " DO UPDATE SET %s", strings.Join(set, ", "))
	return b.String()
}

func nonKeys(cols, keys []string) []string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var out []string
	for _, c := range cols {
		if !isKey[c] {
			out = append(out, c)
		}
	}
	return out
}
