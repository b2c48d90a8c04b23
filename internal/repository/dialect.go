package repository

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Коды ошибок PostgreSQL.
const (
	pgUniqueViolationCode = "23505"
)

// dialect описывает различия SQL между поддерживаемыми БД.
// Запросы пишутся с плейсхолдерами ? и переводятся в нужный вид через sqlx.Rebind.
type dialect struct {
	name       string
	schemaFile string
	bindType   int
	jsonParam  string // плейсхолдер для JSON-значения
	emailExpr  string // выражение, извлекающее email отправителя из raw_data
}

var (
	postgresDialect = dialect{
		name:       DriverPostgres,
		schemaFile: "postgres.sql",
		bindType:   sqlx.DOLLAR,
		jsonParam:  "?::jsonb",
		emailExpr:  "raw_data->'user'->>'email'",
	}
	sqliteDialect = dialect{
		name:       DriverSQLite,
		schemaFile: "sqlite.sql",
		bindType:   sqlx.QUESTION,
		jsonParam:  "?",
		emailExpr:  "json_extract(raw_data, '$.user.email')",
	}
)

// rebind переводит плейсхолдеры ? в синтаксис диалекта.
func (d dialect) rebind(query string) string {
	return sqlx.Rebind(d.bindType, query)
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres:
		return postgresDialect, nil
	case DriverSQLite:
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// isUniqueViolation распознает нарушение уникальности в обоих драйверах.
func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
