package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// dbtx abstracts *sql.DB and *sql.Tx so query helpers run in either.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections, and a single
	// connection serializes concurrent curator mutations on the same leaf.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Tx, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTx{tx: tx, storage: s}, nil
}

// sqliteTx wraps sql.Tx to implement service.Tx.
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) GetNode(ctx context.Context, id int64) (*model.SourceNode, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getNode(ctx, t.tx, id)
}

func (t *sqliteTx) SaveNode(ctx context.Context, node *model.SourceNode) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.saveNode(ctx, t.tx, node)
}

func (t *sqliteTx) GetMatch(ctx context.Context, nodeID int64) (*model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getMatch(ctx, t.tx, nodeID)
}

func (t *sqliteTx) SaveMatch(ctx context.Context, record *model.MatchRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMatchRecord(record); err != nil {
		return err
	}
	return t.storage.saveMatch(ctx, t.tx, record)
}

func (t *sqliteTx) SaveUndoEntry(ctx context.Context, entry *model.UndoLogEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.saveUndoEntry(ctx, t.tx, entry)
}

func (t *sqliteTx) ClearUndoEntry(ctx context.Context, worldViewID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.clearUndoEntry(ctx, t.tx, worldViewID)
}
