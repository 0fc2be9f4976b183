package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names accepted by Open and Migrate.
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// NormalizeDriver maps config aliases onto a driver name.
func NormalizeDriver(dbType string) string {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "mysql":
		return DriverMySQL
	}
	return strings.ToLower(dbType)
}

// Open connects to the configured database of the given type.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch NormalizeDriver(dbType) {
	case DriverSQLite:
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open(DriverSQLite, dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// sqlite serialises writers anyway; one connection also keeps
		// :memory: databases and the foreign_keys pragma consistent.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case DriverMySQL:
		params := dbCfg.Params
		if params == "" {
			params = "parseTime=true&loc=UTC"
		}
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open(DriverMySQL, dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch NormalizeDriver(driver) {
	case DriverSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
			`CREATE TABLE IF NOT EXISTS datasets (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				file_name TEXT NOT NULL,
				file_type TEXT NOT NULL,
				file_size INTEGER NOT NULL DEFAULT 0,
				row_count INTEGER NOT NULL DEFAULT 0,
				column_count INTEGER NOT NULL DEFAULT 0,
				columns TEXT NOT NULL DEFAULT '[]',
				status TEXT NOT NULL DEFAULT 'pending',
				error_message TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				processed_at DATETIME,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_datasets_user_created ON datasets(user_id, created_at, id)`,
			`CREATE INDEX IF NOT EXISTS idx_datasets_status ON datasets(status, created_at)`,
			`CREATE TABLE IF NOT EXISTS dataset_summaries (
				dataset_id INTEGER PRIMARY KEY,
				numeric_columns_count INTEGER NOT NULL,
				categorical_columns_count INTEGER NOT NULL,
				missing_values_count INTEGER NOT NULL,
				rows_with_missing INTEGER NOT NULL,
				statistics TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS equipment_metrics (
				dataset_id INTEGER PRIMARY KEY,
				total_records INTEGER NOT NULL,
				avg_flowrate REAL,
				avg_pressure REAL,
				avg_temperature REAL,
				most_common_type TEXT,
				metrics TEXT NOT NULL,
				FOREIGN KEY(dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
			)`,
		}
	case DriverMySQL:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				username VARCHAR(255) NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token VARCHAR(255) NOT NULL PRIMARY KEY,
				user_id BIGINT UNSIGNED NOT NULL,
				created_at DATETIME(6) NOT NULL,
				expires_at DATETIME(6) NOT NULL,
				INDEX idx_user_tokens_user (user_id),
				CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS datasets (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				user_id BIGINT UNSIGNED NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL,
				file_name VARCHAR(255) NOT NULL,
				file_type VARCHAR(16) NOT NULL,
				file_size BIGINT NOT NULL DEFAULT 0,
				row_count INT NOT NULL DEFAULT 0,
				column_count INT NOT NULL DEFAULT 0,
				columns MEDIUMTEXT NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'pending',
				error_message TEXT NOT NULL,
				created_at DATETIME(6) NOT NULL,
				processed_at DATETIME(6) NULL,
				PRIMARY KEY (id),
				INDEX idx_datasets_user_created (user_id, created_at, id),
				INDEX idx_datasets_status (status, created_at),
				CONSTRAINT fk_datasets_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS dataset_summaries (
				dataset_id BIGINT UNSIGNED NOT NULL PRIMARY KEY,
				numeric_columns_count INT NOT NULL,
				categorical_columns_count INT NOT NULL,
				missing_values_count INT NOT NULL,
				rows_with_missing INT NOT NULL,
				statistics MEDIUMTEXT NOT NULL,
				created_at DATETIME(6) NOT NULL,
				CONSTRAINT fk_summaries_dataset FOREIGN KEY (dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS equipment_metrics (
				dataset_id BIGINT UNSIGNED NOT NULL PRIMARY KEY,
				total_records INT NOT NULL,
				avg_flowrate DOUBLE NULL,
				avg_pressure DOUBLE NULL,
				avg_temperature DOUBLE NULL,
				most_common_type VARCHAR(255) NULL,
				metrics MEDIUMTEXT NOT NULL,
				CONSTRAINT fk_metrics_dataset FOREIGN KEY (dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
