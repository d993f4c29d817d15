// Package sqlite provides SQLite implementation for memory storage.
//
// SQLite is a lightweight, file-based database suitable for a single character
// running locally. Vectors and reference lists are stored as JSON strings in
// TEXT fields.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Client implements MemoryStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collectionName is the name of the table storing memories.
	collectionName string

	// agentName scopes every memory row and the status register.
	agentName string
}

// Config contains configuration for creating a SQLite MemoryStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the memory table. The status table is
	// named "<CollectionName>_status".
	CollectionName string

	// AgentName identifies the agent. Agents sharing a database file and
	// table never see each other's memories or status.
	AgentName string
}

// NewClient creates a new SQLite MemoryStore client.
//
// Parameters:
//   - cfg: Configuration containing database path, table name, and agent name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, storage.Wrap("NewSQLiteClient", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, storage.Wrap("NewSQLiteClient", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}

	client := &Client{
		db:             db,
		collectionName: collection,
		agentName:      cfg.AgentName,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the memory and status tables.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			agent_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			description TEXT NOT NULL,
			importance INTEGER NOT NULL,
			embedding TEXT NOT NULL,
			associated_ids TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			accessed_at DATETIME NOT NULL,
			retrieval_value REAL DEFAULT 0
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return storage.Wrap("initTables", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_agent_description ON %s(agent_name, description)
	`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return storage.Wrap("initTables", err)
	}

	statusQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_status (
			agent_name TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`, c.collectionName)
	if _, err := c.db.ExecContext(ctx, statusQuery); err != nil {
		return storage.Wrap("initTables", err)
	}

	return nil
}

// Store inserts a memory record owned by the client's agent.
//
// Parameters:
//   - ctx: Context for cancellation
//   - record: The record to insert; its ID must be unique within the table
//
// Returns:
//   - error: ErrPersistence-wrapped error if the insert fails
func (c *Client) Store(ctx context.Context, record *storage.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, agent_name, kind, description, importance, embedding, associated_ids, created_at, accessed_at, retrieval_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	embeddingJSON, idsJSON, err := encodeVectors(record)
	if err != nil {
		return storage.Wrap("Store", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		c.agentName,
		record.Kind,
		record.Description,
		record.Importance,
		embeddingJSON,
		idsJSON,
		record.CreatedAt.UTC(),
		record.AccessedAt.UTC(),
		record.RetrievalValue,
	)
	return storage.Wrap("Store", err)
}

// FindByDescription returns the agent's oldest record with exactly this
// description.
//
// Parameters:
//   - ctx: Context for cancellation
//   - description: Text compared byte for byte
//
// Returns:
//   - *storage.Record: The matching record
//   - error: storage.ErrNotFound when the agent has no such memory
func (c *Client) FindByDescription(ctx context.Context, description string) (*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, kind, description, importance, embedding, associated_ids,
		       created_at, accessed_at, retrieval_value
		FROM %s
		WHERE agent_name = ? AND description = ?
		ORDER BY id
		LIMIT 1
	`, c.collectionName)

	record, err := c.scanRecord(c.db.QueryRowContext(ctx, query, c.agentName, description))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Wrap("FindByDescription", err)
	}
	return record, nil
}

// ListAll returns every memory record of the agent, in no particular order.
func (c *Client) ListAll(ctx context.Context) ([]*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, kind, description, importance, embedding, associated_ids,
		       created_at, accessed_at, retrieval_value
		FROM %s
		WHERE agent_name = ?
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query, c.agentName)
	if err != nil {
		return nil, storage.Wrap("ListAll", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := c.scanRecord(rows)
		if err != nil {
			return nil, storage.Wrap("ListAll", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("ListAll", err)
	}

	return records, nil
}

// GetStatus returns the stored agent status.
func (c *Client) GetStatus(ctx context.Context) (string, error) {
	query := fmt.Sprintf(`SELECT status FROM %s_status WHERE agent_name = ?`, c.collectionName)

	var status string
	err := c.db.QueryRowContext(ctx, query, c.agentName).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", storage.Wrap("GetStatus", err)
	}
	return status, nil
}

// SetStatus upserts the agent status.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s_status (agent_name, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`, c.collectionName)

	_, err := c.db.ExecContext(ctx, query, c.agentName, status, time.Now().UTC())
	return storage.Wrap("SetStatus", err)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a memory record from a database row.
func (c *Client) scanRecord(row rowScanner) (*storage.Record, error) {
	var record storage.Record
	var embeddingStr, idsStr string

	err := row.Scan(
		&record.ID,
		&record.Kind,
		&record.Description,
		&record.Importance,
		&embeddingStr,
		&idsStr,
		&record.CreatedAt,
		&record.AccessedAt,
		&record.RetrievalValue,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeVectors(&record, embeddingStr, idsStr); err != nil {
		return nil, err
	}

	return &record, nil
}
