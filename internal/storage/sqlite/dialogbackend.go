// Package sqlite is the local durable dialog backend: a flat key-value table
// in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
)

// DefaultNamespace is the key-value namespace of the pending dialog.
const DefaultNamespace = "fcm_dialog_prefs"

const (
	keyHasDialog = "has_dialog"
	keyTitle     = "dialog_title"
	keyBody      = "dialog_body"
	keyImageURL  = "dialog_image_url"
	keyTimestamp = "dialog_timestamp"
	keyAction    = "dialog_action"
)

//go:embed schema.sql
var schema string

// DialogBackend implements dispatch.DialogBackend on SQLite.
type DialogBackend struct {
	db        *sql.DB
	namespace string
	logger    *slog.Logger
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DialogBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}

	logger.Info("SQLite dialog backend opened", "path", path)
	return &DialogBackend{
		db:        db,
		namespace: DefaultNamespace,
		logger:    logger.With("component", "SQLiteDialogBackend"),
	}, nil
}

// Load reads every key of the namespace.
func (b *DialogBackend) Load(ctx context.Context) (dispatch.DialogRecord, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE namespace = ?`, b.namespace)
	if err != nil {
		return dispatch.DialogRecord{}, fmt.Errorf("failed to query dialog: %w", err)
	}
	defer rows.Close()

	var rec dispatch.DialogRecord
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return dispatch.DialogRecord{}, fmt.Errorf("failed to scan dialog: %w", err)
		}
		switch key {
		case keyHasDialog:
			rec.HasDialog = value == "1"
		case keyTitle:
			rec.Title = value
		case keyBody:
			rec.Body = value
		case keyImageURL:
			rec.ImageURL = value
		case keyTimestamp:
			rec.Timestamp, _ = strconv.ParseInt(value, 10, 64)
		case keyAction:
			rec.Action = value
		}
	}
	return rec, rows.Err()
}

// Store replaces the namespace with rec in one transaction. Empty optional
// fields are removed rather than stored.
func (b *DialogBackend) Store(ctx context.Context, rec dispatch.DialogRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?`, b.namespace); err != nil {
		return fmt.Errorf("failed to clear dialog keys: %w", err)
	}

	values := map[string]string{keyHasDialog: "0"}
	if rec.HasDialog {
		values[keyHasDialog] = "1"
		values[keyTimestamp] = strconv.FormatInt(rec.Timestamp, 10)
		putIfSet(values, keyTitle, rec.Title)
		putIfSet(values, keyBody, rec.Body)
		putIfSet(values, keyImageURL, rec.ImageURL)
		putIfSet(values, keyAction, rec.Action)
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv(namespace, key, value) VALUES(?,?,?)`, b.namespace, k, v); err != nil {
			return fmt.Errorf("failed to write dialog key %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Reset removes every key in the namespace.
func (b *DialogBackend) Reset(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?`, b.namespace); err != nil {
		return fmt.Errorf("failed to reset dialog namespace: %w", err)
	}
	return nil
}

// Keys lists the keys currently stored in the namespace.
func (b *DialogBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM kv WHERE namespace = ? ORDER BY key`, b.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *DialogBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func putIfSet(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
