package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation    = "23505"
	mysqlDuplicateEntry  = 1062
	sqliteUniqueMessage  = "unique constraint failed"
	genericDuplicateText = "duplicate key"
)

// isUniqueConstraintError reports whether err is a uniqueness violation. Issuance relies on it to
// detect a concurrent request that already stored the same idempotency key, and registration to
// detect a taken email. Foreign-key and not-null violations are not uniqueness errors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, sqliteUniqueMessage) || strings.Contains(lower, genericDuplicateText)
}
