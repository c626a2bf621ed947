// Package all links every storage backend and the SQL Server driver.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "sheetgraph/internal/storage/mssql"
	_ "sheetgraph/internal/storage/postgres"
	_ "sheetgraph/internal/storage/sqlite"
)
