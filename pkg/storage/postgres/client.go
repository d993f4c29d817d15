// Package postgres provides a PostgreSQL + pgvector implementation for memory storage.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oceanbase/agentmem-go/pkg/storage"
	"github.com/pgvector/pgvector-go"
)

// Client is a PostgreSQL + pgvector client.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
	agentName      string
}

// Config contains PostgreSQL configuration.
//
// Several agents may share one table; every row carries its agent's name.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	AgentName          string
	EmbeddingModelDims int
	SSLMode            string
}

// NewClient creates a new PostgreSQL client.
//
// Parameters:
//   - cfg: Connection settings, table name, agent name and vector dimension
//
// Returns:
//   - *Client: The PostgreSQL client instance
//   - error: Error if the connection, the vector extension or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storage.Wrap("NewPostgresClient", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storage.Wrap("NewPostgresClient", err)
	}

	client := &Client{
		db:             db,
		collectionName: cfg.CollectionName,
		dimensions:     cfg.EmbeddingModelDims,
		agentName:      cfg.AgentName,
	}

	// Initialize pgvector extension and table structure
	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the memory and status tables.
func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return storage.Wrap("initTables: create extension", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			agent_name VARCHAR(255) NOT NULL,
			kind VARCHAR(16) NOT NULL,
			description TEXT NOT NULL,
			importance SMALLINT NOT NULL,
			embedding vector(%d) NOT NULL,
			associated_ids BIGINT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			accessed_at TIMESTAMPTZ NOT NULL,
			retrieval_value DOUBLE PRECISION DEFAULT 0
		)
	`, c.collectionName, c.dimensions)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return storage.Wrap("initTables: create table", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_description ON %s USING hash (description)
	`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return storage.Wrap("initTables: create index", err)
	}

	statusQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_status (
			agent_name VARCHAR(255) PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, c.collectionName)
	if _, err := c.db.ExecContext(ctx, statusQuery); err != nil {
		return storage.Wrap("initTables: create status table", err)
	}

	return nil
}

// Store inserts a memory record owned by the client's agent.
//
// Parameters:
//   - ctx: Context for cancellation
//   - record: The record to insert; its embedding must match the vector column
//
// Returns:
//   - error: ErrPersistence-wrapped error if the insert fails
func (c *Client) Store(ctx context.Context, record *storage.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, agent_name, kind, description, importance, embedding, associated_ids, created_at, accessed_at, retrieval_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.collectionName)

	ids := record.AssociatedIDs
	if ids == nil {
		ids = []int64{}
	}

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		c.agentName,
		record.Kind,
		record.Description,
		record.Importance,
		pgvector.NewVector(toFloat32(record.Embedding)),
		pq.Array(ids),
		record.CreatedAt,
		record.AccessedAt,
		record.RetrievalValue,
	)
	return storage.Wrap("Store", err)
}

// FindByDescription returns the agent's oldest record with exactly this
// description, or storage.ErrNotFound.
func (c *Client) FindByDescription(ctx context.Context, description string) (*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, kind, description, importance, embedding, associated_ids,
		       created_at, accessed_at, retrieval_value
		FROM %s
		WHERE agent_name = $1 AND description = $2
		ORDER BY id
		LIMIT 1
	`, c.collectionName)

	record, err := scanRecord(c.db.QueryRowContext(ctx, query, c.agentName, description))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Wrap("FindByDescription", err)
	}
	return record, nil
}

// ListAll returns every memory record of the agent.
func (c *Client) ListAll(ctx context.Context) ([]*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, kind, description, importance, embedding, associated_ids,
		       created_at, accessed_at, retrieval_value
		FROM %s
		WHERE agent_name = $1
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query, c.agentName)
	if err != nil {
		return nil, storage.Wrap("ListAll", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows)
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
	query := fmt.Sprintf(`SELECT status FROM %s_status WHERE agent_name = $1`, c.collectionName)

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
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_name) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
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
