package mssql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// factsQuery reads server properties in their native SQL types so the
// type registry decides how they are represented.
const factsQuery = `SELECT
	CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)) AS product_version,
	CAST(SERVERPROPERTY('Edition') AS nvarchar(128)) AS edition,
	CAST(ISNULL(SERVERPROPERTY('IsClustered'), 0) AS bit) AS is_clustered,
	SYSDATETIMEOFFSET() AS server_time,
	CAST(@@TIMETICKS / 1000.0 AS decimal(10, 5)) AS tick_ms,
	(SELECT service_broker_guid FROM sys.databases WHERE database_id = DB_ID()) AS database_guid`

// Inspect implements tds.Inspector.
func (l *link) Inspect(ctx context.Context) ([]tds.Column, error) {
	rows, err := l.query(ctx, factsQuery)
	if err != nil {
		return nil, fmt.Errorf("querying server facts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	names := rows.Columns()
	values := make([]driver.Value, len(names))
	if err := rows.Next(values); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("querying server facts: no rows")
		}
		return nil, fmt.Errorf("reading server facts: %w", err)
	}

	typed, _ := rows.(driver.RowsColumnTypeDatabaseTypeName)
	cols := make([]tds.Column, 0, len(names))
	for i, name := range names {
		col := tds.Column{Name: name, Value: values[i]}
		if typed != nil {
			col.Type = typed.ColumnTypeDatabaseTypeName(i)
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// query runs a statement without arguments over the raw driver session.
func (l *link) query(ctx context.Context, query string) (driver.Rows, error) {
	if q, ok := l.conn.(driver.QueryerContext); ok {
		rows, err := q.QueryContext(ctx, query, nil)
		if !errors.Is(err, driver.ErrSkip) {
			return rows, err
		}
	}

	var stmt driver.Stmt
	var err error
	if p, ok := l.conn.(driver.ConnPrepareContext); ok {
		stmt, err = p.PrepareContext(ctx, query)
	} else {
		stmt, err = l.conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}

	var rows driver.Rows
	if sq, ok := stmt.(driver.StmtQueryContext); ok {
		rows, err = sq.QueryContext(ctx, nil)
	} else {
		rows, err = stmt.Query(nil) //nolint:staticcheck // fallback for drivers without context support
	}
	if err != nil {
		_ = stmt.Close() //nolint:errcheck // query already failed
		return nil, err
	}
	return stmtRows{Rows: rows, stmt: stmt}, nil
}

// stmtRows closes the prepared statement along with its rows.
type stmtRows struct {
	driver.Rows
	stmt driver.Stmt
}

func (r stmtRows) Close() error {
	return errors.Join(r.Rows.Close(), r.stmt.Close())
}

// ColumnTypeDatabaseTypeName forwards to the wrapped rows when supported.
func (r stmtRows) ColumnTypeDatabaseTypeName(i int) string {
	if t, ok := r.Rows.(driver.RowsColumnTypeDatabaseTypeName); ok {
		return t.ColumnTypeDatabaseTypeName(i)
	}
	return ""
}
