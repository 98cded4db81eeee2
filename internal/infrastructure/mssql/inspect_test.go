package mssql

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"testing"
	"time"
)

// fakeDriverConn answers every prepared query with one scripted row.
type fakeDriverConn struct {
	names []string
	types []string
	row   []driver.Value

	queryErr error
	stmts    int
	closed   int
}

func (c *fakeDriverConn) Prepare(string) (driver.Stmt, error) {
	c.stmts++
	return &fakeStmt{conn: c}, nil
}
func (c *fakeDriverConn) Close() error              { return nil }
func (c *fakeDriverConn) Begin() (driver.Tx, error) { return nil, errors.New("not supported") }

type fakeStmt struct {
	conn *fakeDriverConn
}

func (s *fakeStmt) Close() error                               { s.conn.closed++; return nil }
func (s *fakeStmt) NumInput() int                              { return 0 }
func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error) { return nil, errors.New("not supported") }

func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) {
	if s.conn.queryErr != nil {
		return nil, s.conn.queryErr
	}
	return &fakeRows{conn: s.conn}, nil
}

type fakeRows struct {
	conn *fakeDriverConn
	done bool
}

func (r *fakeRows) Columns() []string { return r.conn.names }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.done || r.conn.row == nil {
		return io.EOF
	}
	r.done = true
	copy(dest, r.conn.row)
	return nil
}

func (r *fakeRows) ColumnTypeDatabaseTypeName(i int) string { return r.conn.types[i] }

func TestLinkInspect(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	conn := &fakeDriverConn{
		names: []string{"product_version", "is_clustered", "server_time", "tick_ms"},
		types: []string{"NVARCHAR", "BIT", "DATETIMEOFFSET", "DECIMAL"},
		row:   []driver.Value{"16.0.1000.6", false, now, []byte("0.03125")},
	}
	l := &link{conn: conn}

	cols, err := l.Inspect(context.Background())
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if len(cols) != 4 {
		t.Fatalf("len(cols) = %d, want 4", len(cols))
	}
	for i, col := range cols {
		if col.Name != conn.names[i] || col.Type != conn.types[i] {
			t.Errorf("cols[%d] = %s/%s, want %s/%s", i, col.Name, col.Type, conn.names[i], conn.types[i])
		}
	}
	if got := cols[2].Value; got != now {
		t.Errorf("server_time = %v, want %v", got, now)
	}
	if conn.closed != 1 {
		t.Errorf("statement closes = %d, want 1", conn.closed)
	}
}

func TestLinkInspectErrors(t *testing.T) {
	t.Run("query fails", func(t *testing.T) {
		errBoom := errors.New("boom")
		conn := &fakeDriverConn{queryErr: errBoom}
		l := &link{conn: conn}

		if _, err := l.Inspect(context.Background()); !errors.Is(err, errBoom) {
			t.Errorf("Inspect() error = %v, want boom", err)
		}
		if conn.closed != 1 {
			t.Errorf("statement closes = %d, want 1", conn.closed)
		}
	})

	t.Run("no rows", func(t *testing.T) {
		l := &link{conn: &fakeDriverConn{names: []string{"edition"}, types: []string{"NVARCHAR"}}}

		if _, err := l.Inspect(context.Background()); err == nil {
			t.Error("Inspect() expected error for empty result")
		}
	})
}
