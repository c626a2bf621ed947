package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sheetgraph/internal/schema"
	"sheetgraph/internal/storage"
)

// maxParams is the wire protocol's int16 bind-parameter count limit.
const maxParams = 65535

/*
Repo implements storage.Repository for Postgres.

DDL runs inside one transaction so a failed EnsureTables leaves no partial
schema behind. Inserts are plain multi-row INSERT statements with numbered
placeholders.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool-backed Repo and pings the server.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) ParamLimit() int { return maxParams }

// DropTable drops the table and anything depending on it.
func (r *Repo) DropTable(ctx context.Context, table string) error {
	_, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(table)+" CASCADE;")
	return err
}

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, t := range tables {
			ddl, err := buildCreateSQL(t)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("create table %s: %w", t.Name, err)
			}
		}
		return nil
	})
}

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args := buildInsertSQL(table, columns, rows)
	cmd, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func pgType(t schema.SemanticType) string {
	switch t {
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeDateTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func buildColumnDef(c storage.ColumnSpec, primaryKey string) string {
	def := fmt.Sprintf("%s %s", pgIdent(c.Name), pgType(c.Type))
	if c.Name == primaryKey {
		def += " PRIMARY KEY"
	} else if !c.Nullable {
		def += " NOT NULL"
	}
	if c.References != nil {
		def += fmt.Sprintf(" REFERENCES %s (%s)", pgIdent(c.References.Table), pgIdent(c.References.Column))
	}
	return def
}

// buildCreateSQL renders CREATE TABLE IF NOT EXISTS for one spec.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("table %s: no columns", t.Name)
	}
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, buildColumnDef(c, t.PrimaryKey))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", pgIdent(t.Name), strings.Join(cols, ",\n  ")), nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - len(rows)*len(columns) must not exceed maxParams.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}
