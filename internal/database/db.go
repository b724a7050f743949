package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sqlx.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = host + ":" + port
	cfg.DBName = name
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps instants consistent
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// Conditional updates compare matched rows, not changed rows.
	cfg.ClientFoundRows = true
	cfg.Params = map[string]string{
		"charset":               "utf8mb4",
		"transaction_isolation": "'REPEATABLE-READ'",
	}

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Str("db", name).Msg("connected to MySQL")
	return db, nil
}

// Migrate applies the embedded schema files in name order.  Every
// statement is idempotent (CREATE TABLE IF NOT EXISTS), so running it on
// each start is safe.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	names, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(raw), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate %s: %w", name, err)
			}
		}
		log.Debug().Str("file", name).Msg("schema applied")
	}
	return nil
}
