// Package steptest provides an in-memory gateway for step tests.
package steptest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

// QueryFunc answers a query with a frame.
type QueryFunc func(args []any) (*frame.Frame, error)

// ExecFunc handles a statement and returns the rows affected.
type ExecFunc func(args []any) (int64, error)

type queryHandler struct {
	database string
	contains string
	fn       QueryFunc
}

type execHandler struct {
	database string
	contains string
	fn       ExecFunc
}

// Exec is a recorded statement.
type Exec struct {
	Database  string
	Statement string
	Args      []any
}

// Gateway is an in-memory steps.Gateway. Queries are answered by handlers
// matched on a substring of the SQL; writes land in per-database tables.
type Gateway struct {
	mu      sync.Mutex
	dialect db.Dialect
	queries []queryHandler
	execs   []execHandler
	tables  map[string]*frame.Frame

	// Down marks logical databases as unreachable.
	Down map[string]bool

	// Executed records every Exec call in order.
	Executed []Exec
}

// NewGateway returns an empty gateway speaking the SQL Server dialect.
func NewGateway() *Gateway {
	return &Gateway{
		dialect: db.SQLServer{},
		tables:  make(map[string]*frame.Frame),
		Down:    make(map[string]bool),
	}
}

func tableKey(database, table string) string {
	return database + "." + strings.ToLower(table)
}

// OnQuery answers queries against database containing fragment with f.
func (g *Gateway) OnQuery(database, fragment string, f *frame.Frame) {
	g.OnQueryFunc(database, fragment, func([]any) (*frame.Frame, error) { return f, nil })
}

// OnQueryFunc answers matching queries with fn. Later handlers win.
func (g *Gateway) OnQueryFunc(database, fragment string, fn QueryFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, queryHandler{database, fragment, fn})
}

// OnExec handles statements against database containing fragment.
func (g *Gateway) OnExec(database, fragment string, fn ExecFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.execs = append(g.execs, execHandler{database, fragment, fn})
}

// ServeTable answers matching queries with the current contents of a
// warehouse table, restricted to cols when given.
func (g *Gateway) ServeTable(fragment, table string, cols ...string) {
	g.OnQueryFunc(config.DBWarehouse, fragment, func([]any) (*frame.Frame, error) {
		t := g.Table(config.DBWarehouse, table)
		if len(cols) == 0 {
			return t, nil
		}
		for _, c := range cols {
			if !t.Has(c) {
				t.AddColumn(c, nil)
			}
		}
		return t.Select(cols...)
	})
}

// SetTable seeds a table.
func (g *Gateway) SetTable(database, table string, f *frame.Frame) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tables[tableKey(database, table)] = f
}

// Table returns a copy of a table, or an empty frame.
func (g *Gateway) Table(database, table string) *frame.Frame {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tables[tableKey(database, table)]
	if !ok {
		return frame.New()
	}
	return frame.Concat(t)
}

func (g *Gateway) Fetch(ctx context.Context, database, query string, args ...any) (*frame.Frame, error) {
	if g.Down[database] {
		return nil, &db.Error{Kind: db.ErrSourceUnavailable, Database: database, Op: "connect", Err: fmt.Errorf("down")}
	}
	g.mu.Lock()
	var fn QueryFunc
	for i := len(g.queries) - 1; i >= 0; i-- {
		h := g.queries[i]
		if h.database == database && strings.Contains(query, h.contains) {
			fn = h.fn
			break
		}
	}
	g.mu.Unlock()

	if fn == nil {
		return nil, &db.Error{Kind: db.ErrQuery, Database: database, Op: "fetch", Err: fmt.Errorf("no handler for query: %.60s", query)}
	}
	f, err := fn(args)
	if err != nil {
		return nil, err
	}
	// Callers mutate what they fetch
	return frame.Concat(f), nil
}

func (g *Gateway) BulkWrite(ctx context.Context, f *frame.Frame, table, database string, mode db.WriteMode) (db.WriteResult, error) {
	if g.Down[database] {
		return db.WriteResult{}, &db.Error{Kind: db.ErrSourceUnavailable, Database: database, Op: "connect", Err: fmt.Errorf("down")}
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	key := tableKey(database, table)
	switch mode {
	case db.ModeReplace:
		g.tables[key] = frame.Concat(f)
	case db.ModeAppend:
		g.tables[key] = frame.Concat(g.tables[key], f)
	default:
		return db.WriteResult{}, &db.Error{Kind: db.ErrWrite, Database: database, Op: "write", Err: fmt.Errorf("mode %q", mode)}
	}
	return db.WriteResult{Written: int64(f.Len())}, nil
}

func (g *Gateway) Exec(ctx context.Context, database, statement string, args ...any) (int64, error) {
	if g.Down[database] {
		return 0, &db.Error{Kind: db.ErrSourceUnavailable, Database: database, Op: "connect", Err: fmt.Errorf("down")}
	}
	g.mu.Lock()
	g.Executed = append(g.Executed, Exec{Database: database, Statement: statement, Args: args})
	var fn ExecFunc
	for i := len(g.execs) - 1; i >= 0; i-- {
		h := g.execs[i]
		if h.database == database && strings.Contains(statement, h.contains) {
			fn = h.fn
			break
		}
	}
	g.mu.Unlock()

	if fn == nil {
		return 1, nil
	}
	return fn(args)
}

func (g *Gateway) Count(ctx context.Context, table, database string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tables[tableKey(database, table)]
	if !ok {
		return 0, nil
	}
	return int64(t.Len()), nil
}

func (g *Gateway) Dialect(ctx context.Context, database string) (db.Dialect, error) {
	return g.dialect, nil
}

// Env returns a step environment over the gateway with default analytics
// settings and a pinned clock.
func (g *Gateway) Env(now time.Time) *steps.Env {
	return &steps.Env{
		Gateway:   g,
		Analytics: config.DefaultConfig().Analytics,
		Now:       func() time.Time { return now },
		Log:       zerolog.Nop(),
	}
}

var _ steps.Gateway = (*Gateway)(nil)
