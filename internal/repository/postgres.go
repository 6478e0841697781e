package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens the shared database used by the pro tier.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("user=%s", cfg.PostgresUser),
		fmt.Sprintf("password=%s", cfg.PostgresPassword),
		fmt.Sprintf("dbname=%s", dbname),
		fmt.Sprintf("sslmode=%s", sslmode),
		"application_name=kestrel",
		"connect_timeout=5",
	}

	db, err := sql.Open("postgres", strings.Join(parts, " "))
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	// Checks are short-lived; keep the pool modest and cycle connections so
	// a pooler in front can rebalance.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	return db, nil
}
