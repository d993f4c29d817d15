package oceanbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Client is an OceanBase client. It speaks the MySQL protocol, so plain MySQL
// servers work too as long as they accept the VECTOR column type.
type Client struct {
	db             *sql.DB
	config         *Config
	collectionName string
}

// Config contains OceanBase configuration.
//
// Several agents may share one table; rows are keyed by AgentName.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	AgentName          string
	EmbeddingModelDims int
}

// NewClient creates a new OceanBase client.
//
// Parameters:
//   - cfg: Connection settings, table name, agent name and vector dimension
//
// Returns:
//   - *Client: The OceanBase client instance
//   - error: Error if the connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, storage.Wrap("NewOceanBaseClient", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storage.Wrap("NewOceanBaseClient", err)
	}

	client := &Client{
		db:             db,
		config:         cfg,
		collectionName: cfg.CollectionName,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the memory and status tables.
// Descriptions are LONGTEXT, so lookups go through an indexed MD5 hash column.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			agent_name VARCHAR(128) NOT NULL,
			kind VARCHAR(16) NOT NULL,
			description LONGTEXT NOT NULL,
			hash VARCHAR(32) NOT NULL,
			importance TINYINT NOT NULL,
			embedding VECTOR(%d),
			associated_ids JSON,
			created_at DATETIME(6) NOT NULL,
			accessed_at DATETIME(6) NOT NULL,
			retrieval_value DOUBLE DEFAULT 0,
			INDEX idx_agent_hash (agent_name, hash)
		)
	`, c.collectionName, c.config.EmbeddingModelDims)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return storage.Wrap("initTables", err)
	}

	statusQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_status (
			agent_name VARCHAR(128) PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at DATETIME(6) NOT NULL
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
//   - record: The record to insert
//
// Returns:
//   - error: ErrPersistence-wrapped error if the insert fails
func (c *Client) Store(ctx context.Context, record *storage.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, agent_name, kind, description, hash, importance, embedding, associated_ids, created_at, accessed_at, retrieval_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	idsJSON, err := idsToJSON(record.AssociatedIDs)
	if err != nil {
		return storage.Wrap("Store", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		c.config.AgentName,
		record.Kind,
		record.Description,
		generateHash(record.Description),
		record.Importance,
		vectorToString(record.Embedding),
		idsJSON,
		record.CreatedAt.UTC(),
		record.AccessedAt.UTC(),
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
		WHERE agent_name = ? AND hash = ? AND description = ?
		ORDER BY id
		LIMIT 1
	`, c.collectionName)

	record, err := scanRecord(c.db.QueryRowContext(ctx, query, c.config.AgentName, generateHash(description), description))
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
		WHERE agent_name = ?
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query, c.config.AgentName)
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
	query := fmt.Sprintf(`SELECT status FROM %s_status WHERE agent_name = ?`, c.collectionName)

	var status string
	err := c.db.QueryRowContext(ctx, query, c.config.AgentName).Scan(&status)
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
		ON DUPLICATE KEY UPDATE status = VALUES(status), updated_at = VALUES(updated_at)
	`, c.collectionName)

	_, err := c.db.ExecContext(ctx, query, c.config.AgentName, status, time.Now().UTC())
	return storage.Wrap("SetStatus", err)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
