package database

import (
	"chatrelay-backend/internal/models"
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type Dialect int

const (
	Sqlite Dialect = iota
	Mysql
)

func setPragmaValues(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	// these next 2 extremely speed up performance of sqlite
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}

	if _, err := db.Exec("PRAGMA synchronous = normal"); err != nil {
		return err
	}

	return nil
}

func readPragmaValues(db *sql.DB, sugar *zap.SugaredLogger) error {
	var foreignKeysValue bool
	err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeysValue)
	if err != nil {
		return err
	}

	var journalModeValue string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&journalModeValue)
	if err != nil {
		return err
	}

	var synchronousValue int
	err = db.QueryRow("PRAGMA synchronous").Scan(&synchronousValue)
	if err != nil {
		return err
	}

	var synchronousValueStr string
	switch synchronousValue {
	case 0:
		synchronousValueStr = "off"
	case 1:
		synchronousValueStr = "normal"
	case 2:
		synchronousValueStr = "full"
	case 3:
		synchronousValueStr = "extra"
	default:
		return fmt.Errorf("synchronous value is unsupported")
	}

	sugar.Infow("sqlite pragma values",
		"foreign_keys", foreignKeysValue,
		"journal_mode", journalModeValue,
		"synchronous", synchronousValueStr,
	)

	return nil
}

// Setup connects to sqlite when self-contained, to mysql/mariadb otherwise,
// and creates missing tables.
func Setup(cfg *models.ConfigFile, sugar *zap.SugaredLogger) (*Store, error) {
	if cfg.SelfContained {
		sugar.Infof("Connecting to database sqlite at %s...", cfg.SqlitePath)
		return OpenSqlite(cfg.SqlitePath, sugar)
	}

	sugar.Info("Connecting to database mysql/mariadb...")

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&timeout=10s", cfg.DbUser, cfg.DbPassword, cfg.DbAddress, cfg.DbPort, cfg.DbDatabase)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)

	store := &Store{db: db, dialect: Mysql, sugar: sugar}
	if err := store.setupTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenSqlite opens path (":memory:" works for tests) with one connection.
func OpenSqlite(path string, sugar *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// there can be sqlite busy errors if this is not set to 1
	db.SetMaxOpenConns(1)

	if err := setPragmaValues(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := readPragmaValues(db, sugar); err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db, dialect: Sqlite, sugar: sugar}
	if err := store.setupTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username VARCHAR(32) NOT NULL,
		display_name VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS servers (
		id BIGINT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		name VARCHAR(64) NOT NULL,
		FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS server_members (
		server_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		since BIGINT NOT NULL,
		PRIMARY KEY (server_id, user_id),
		FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id BIGINT PRIMARY KEY,
		server_id BIGINT NULL,
		name VARCHAR(32) NOT NULL,
		last_seq BIGINT NOT NULL DEFAULT 0,
		FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS channel_recipients (
		channel_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		PRIMARY KEY (channel_id, user_id),
		FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT PRIMARY KEY,
		channel_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		message TEXT NOT NULL,
		attachments TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		edited_at BIGINT NOT NULL DEFAULT 0,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL,
		seq BIGINT NOT NULL,
		FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		message_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		emoji VARCHAR(64) NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (message_id, user_id, emoji),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS user_status (
		user_id BIGINT PRIMARY KEY,
		status VARCHAR(16) NOT NULL,
		custom_status VARCHAR(128) NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
}

type index struct {
	table   string
	name    string
	columns string
}

var indexes = []index{
	{"messages", "idx_messages_channel", "channel_id, id"},
	{"channels", "idx_channels_server", "server_id"},
	{"server_members", "idx_server_members_user", "user_id"},
	{"channel_recipients", "idx_channel_recipients_user", "user_id"},
}

func (s *Store) setupTables(ctx context.Context) error {
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, table); err != nil {
			return err
		}
	}

	for _, idx := range indexes {
		if err := s.createIndex(ctx, idx); err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}

	return nil
}

// mysql has no CREATE INDEX IF NOT EXISTS
func (s *Store) createIndex(ctx context.Context, idx index) error {
	if s.dialect == Sqlite {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, idx.table, idx.columns))
		return err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM information_schema.statistics
			WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?
		)`, idx.table, idx.name).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, idx.table, idx.columns))
	return err
}
