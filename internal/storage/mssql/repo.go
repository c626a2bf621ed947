package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sheetgraph/internal/schema"
	"sheetgraph/internal/storage"
)

// maxParams stays under SQL Server's 2100 parameters per RPC call.
const maxParams = 2000

// Repo implements storage.Repository for Microsoft SQL Server.
//
// This package does NOT import a SQL Server driver. The "sqlserver" driver
// must be registered with database/sql elsewhere; internal/storage/all does
// that.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens a "sqlserver" handle and validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: raw}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) ParamLimit() int { return maxParams }

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, buildDropSQL(table)); err != nil {
		return fmt.Errorf("mssql: drop table %s: %w", table, err)
	}
	return nil
}

// EnsureTables creates each missing table behind an OBJECT_ID guard.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query, args := buildBulkInsertSQL(table, columns, rows)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func mssqlType(t schema.SemanticType) string {
	switch t {
	case schema.TypeBoolean:
		return "BIT"
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeFloat:
		return "FLOAT"
	case schema.TypeDateTime:
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

// mssqlColumnDef builds one column definition. Text primary keys and
// referenced columns need a bounded width to be indexable.
func mssqlColumnDef(c storage.ColumnSpec, primaryKey string) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}

	typ := mssqlType(c.Type)
	if c.Type == schema.TypeText && (c.Name == primaryKey || c.References != nil) {
		typ = "NVARCHAR(450)"
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	switch {
	case c.Name == primaryKey:
		b.WriteString(" PRIMARY KEY")
	case c.Nullable:
		b.WriteString(" NULL")
	default:
		b.WriteString(" NOT NULL")
	}
	if c.References != nil {
		fmt.Fprintf(&b, " REFERENCES %s (%s)", mssqlIdent(c.References.Table), mssqlIdent(c.References.Column))
	}
	return b.String(), nil
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}
	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c, t.PrimaryKey)
		if err != nil {
			return "", err
		}
		parts = append(parts, def)
	}
	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		objectName(tableName),
		mssqlIdent(tableName),
		innerDefs,
	)
}

func buildDropSQL(tableName string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
		objectName(tableName),
		mssqlIdent(tableName),
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, bindValue(row[j]))
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// bindValue sends times as UTC so DATETIME2 (no offset) stores the UTC instant.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// objectName quotes a name for use inside an N'...' literal.
func objectName(name string) string {
	return strings.ReplaceAll(mssqlIdent(name), "'", "''")
}

// dbConn is the subset of *sql.DB this file needs.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

var _ dbConn = (*sql.DB)(nil)
