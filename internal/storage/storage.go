// Package storage publishes converted tables into a relational database.
//
// Backends register themselves under a kind ("sqlite", "postgres", "mssql")
// from init(); import internal/storage/all to link every backend in.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic surface Publish needs. Each backend
// renders DDL and inserts in its own dialect.
type Repository interface {
	// Close releases backend resources. Call it once.
	Close()

	// DropTable removes a table if it exists.
	DropTable(ctx context.Context, table string) error

	// EnsureTables creates tables that do not exist yet, in the given order.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// InsertRows inserts rows in one statement. Every row must have
	// len(columns) values of type bool, int64, float64, time.Time, string or nil.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// ParamLimit is the maximum number of bind parameters per statement.
	ParamLimit() int
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under kind. Call it from an init() function.
//
// Panics:
//   - If kind is empty or f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - cfg.Kind is empty or not registered.
//   - Whatever the backend factory returns (bad DSN, unreachable server).
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
