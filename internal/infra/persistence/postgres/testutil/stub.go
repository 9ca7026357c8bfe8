// Package testutil provides an in-memory database/sql driver that understands
// the key/payload tables of the postgres document store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Failure points accepted by Conn.Fail. A table name fails every statement
// touching that table.
const (
	FailPing   = "ping"
	FailBegin  = "begin"
	FailCommit = "commit"
)

var (
	createRE = regexp.MustCompile(`(?is)^CREATE TABLE IF NOT EXISTS (\w+) \(\s*(\w+) TEXT PRIMARY KEY`)
	upsertRE = regexp.MustCompile(`(?is)^INSERT INTO (\w+)\((\w+),\s*payload\) VALUES\(\$1,\s*\$2\) ON CONFLICT\((\w+)\)`)
	selectRE = regexp.MustCompile(`(?is)^SELECT ([\w, ]+) FROM (\w+)(?: WHERE (\w+) = \$1)?$`)
)

var driverSeq atomic.Uint64

// Conn is a single shared connection. Each table maps its primary key to the
// stored payload.
type Conn struct {
	mu     sync.Mutex
	Execs  []string
	Tables map[string]map[string][]byte
	keys   map[string]string
	Fail   map[string]bool
}

// NewDB registers a fresh driver and returns a sql.DB bound to its Conn.
func NewDB() (*sql.DB, *Conn) {
	conn := &Conn{
		Tables: make(map[string]map[string][]byte),
		keys:   make(map[string]string),
		Fail:   make(map[string]bool),
	}
	name := fmt.Sprintf("scenesync-pg-%d", driverSeq.Add(1))
	sql.Register(name, connector{conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type connector struct{ conn *Conn }

func (d connector) Open(string) (driver.Conn, error) { return d.conn, nil }

// Rows returns the keys stored in table, sorted.
func (c *Conn) Rows(table string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.Tables[table]))
	for k := range c.Tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Conn) failing(point string) error {
	if c.Fail[point] {
		return fmt.Errorf("%s failed", point)
	}
	return nil
}

func (c *Conn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepared statements are not supported")
}

func (c *Conn) Close() error { return nil }

func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *Conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failing(FailBegin); err != nil {
		return nil, err
	}
	return tx{c}, nil
}

func (c *Conn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failing(FailPing)
}

func (c *Conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	query = strings.TrimSpace(query)
	if m := createRE.FindStringSubmatch(query); m != nil {
		table := strings.ToLower(m[1])
		if err := c.failing(table); err != nil {
			return nil, err
		}
		c.keys[table] = strings.ToLower(m[2])
		if c.Tables[table] == nil {
			c.Tables[table] = make(map[string][]byte)
		}
		return driver.RowsAffected(0), nil
	}
	m := upsertRE.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("unsupported statement: %s", query)
	}
	table := strings.ToLower(m[1])
	if err := c.failing(table); err != nil {
		return nil, err
	}
	if key := c.keys[table]; key == "" || key != strings.ToLower(m[2]) || key != strings.ToLower(m[3]) {
		return nil, fmt.Errorf("upsert into %s does not use its primary key", table)
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("upsert into %s: want 2 args, got %d", table, len(args))
	}
	key, ok := args[0].Value.(string)
	if !ok {
		return nil, fmt.Errorf("upsert into %s: key is %T", table, args[0].Value)
	}
	payload, ok := args[1].Value.([]byte)
	if !ok {
		return nil, fmt.Errorf("upsert into %s: payload is %T", table, args[1].Value)
	}
	c.Tables[table][key] = append([]byte(nil), payload...)
	return driver.RowsAffected(1), nil
}

func (c *Conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := selectRE.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	table := strings.ToLower(m[2])
	if err := c.failing(table); err != nil {
		return nil, err
	}
	key, ok := c.keys[table]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", table)
	}
	var cols []string
	for _, col := range strings.Split(m[1], ",") {
		col = strings.ToLower(strings.TrimSpace(col))
		if col != key && col != "payload" {
			return nil, fmt.Errorf("column %q of %s does not exist", col, table)
		}
		cols = append(cols, col)
	}
	var match string
	if where := strings.ToLower(m[3]); where != "" {
		if where != key || len(args) != 1 {
			return nil, fmt.Errorf("unsupported predicate on %s", table)
		}
		match, _ = args[0].Value.(string)
	}

	out := &rows{cols: cols}
	keys := make([]string, 0, len(c.Tables[table]))
	for k := range c.Tables[table] {
		if m[3] == "" || k == match {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		row := make([]driver.Value, len(cols))
		for i, col := range cols {
			if col == key {
				row[i] = k
			} else {
				row[i] = c.Tables[table][k]
			}
		}
		out.values = append(out.values, row)
	}
	return out, nil
}

type tx struct{ conn *Conn }

func (t tx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	return t.conn.failing(FailCommit)
}

func (t tx) Rollback() error { return nil }

type rows struct {
	cols   []string
	values [][]driver.Value
}

func (r *rows) Columns() []string { return r.cols }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if len(r.values) == 0 {
		return io.EOF
	}
	copy(dest, r.values[0])
	r.values = r.values[1:]
	return nil
}
