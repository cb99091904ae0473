package database

import (
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "credverify", Name: "credverify"})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=credverify dbname=credverify TimeZone=UTC sslmode=disable", dsn)
}

func TestBuildPostgresDSNQuotesCredentials(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "registrar",
		Name:     "credentials",
		Host:     "db.example.com",
		Port:     6543,
		Password: `it's a \secret`,
		Options:  map[string]string{"search_path": "public"},
	})
	require.NoError(t, err)

	parsed, err := pgconn.ParseConfig(dsn)
	require.NoError(t, err)
	require.Equal(t, "db.example.com", parsed.Host)
	require.EqualValues(t, 6543, parsed.Port)
	require.Equal(t, "credentials", parsed.Database)
	require.Equal(t, `it's a \secret`, parsed.Password)
	require.Equal(t, "UTC", parsed.RuntimeParams["TimeZone"])
	require.Equal(t, "public", parsed.RuntimeParams["search_path"])
	require.Nil(t, parsed.TLSConfig)
}

func TestBuildPostgresDSNHonoursOverride(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "postgres://u:p@h/db"})
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@h/db", dsn)

	_, err = buildPostgresDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestQuotePostgresValue(t *testing.T) {
	require.Equal(t, "plain", quotePostgresValue("plain"))
	require.Equal(t, "''", quotePostgresValue(""))
	require.Equal(t, `'a b'`, quotePostgresValue("a b"))
	require.Equal(t, `'o\'k'`, quotePostgresValue("o'k"))
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "credverify", Name: "credverify"})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "credverify", parsed.User)
	require.Equal(t, "127.0.0.1:3306", parsed.Addr)
	require.Equal(t, "credverify", parsed.DBName)
	require.True(t, parsed.ParseTime)
	require.Equal(t, time.UTC, parsed.Loc)
	require.Contains(t, dsn, "charset=utf8mb4")
}

func TestBuildMySQLDSNWithOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "user",
		Password: "p@ss:word/1",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify", "collation": "utf8mb4_unicode_ci"},
	})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "p@ss:word/1", parsed.Passwd)
	require.Equal(t, "db.example.com:3307", parsed.Addr)
	require.Equal(t, "skip-verify", parsed.TLSConfig)
	require.Equal(t, "utf8mb4_unicode_ci", parsed.Collation)

	_, err = buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}
