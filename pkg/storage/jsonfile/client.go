// Package jsonfile provides a single-file JSON implementation for memory
// storage, intended for demos and tests where no database is available.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Client implements MemoryStore by rewriting one JSON document on every write.
type Client struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Config contains JSON file configuration.
type Config struct {
	Path      string
	AgentName string
}

type document struct {
	AgentName string            `json:"agent_name"`
	Status    string            `json:"status,omitempty"`
	Memories  []*storage.Record `json:"memories"`
}

// NewClient opens the file at cfg.Path, creating it on first write.
//
// Parameters:
//   - cfg: File path and the agent the file belongs to
//
// Returns:
//   - *Client: The JSON file client instance
//   - error: ErrPersistence-wrapped error if the file cannot be read or
//     belongs to another agent
func NewClient(cfg *Config) (*Client, error) {
	c := &Client{
		path: cfg.Path,
		doc:  document{AgentName: cfg.AgentName},
	}

	data, err := os.ReadFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, storage.Wrap("NewJSONFileClient", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.doc); err != nil {
			return nil, storage.Wrap("NewJSONFileClient", fmt.Errorf("decode %s: %w", cfg.Path, err))
		}
	}
	switch {
	case c.doc.AgentName == "":
		c.doc.AgentName = cfg.AgentName
	case cfg.AgentName != "" && c.doc.AgentName != cfg.AgentName:
		// one file holds one agent's stream
		return nil, storage.Wrap("NewJSONFileClient",
			fmt.Errorf("%s belongs to agent %q, not %q", cfg.Path, c.doc.AgentName, cfg.AgentName))
	}
	return c, nil
}

// Store appends a record and flushes the file.
func (c *Client) Store(ctx context.Context, record *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *record
	c.doc.Memories = append(c.doc.Memories, &stored)
	if err := c.flush(); err != nil {
		c.doc.Memories = c.doc.Memories[:len(c.doc.Memories)-1]
		return storage.Wrap("Store", err)
	}
	return nil
}

// FindByDescription returns the first stored record with this description.
func (c *Client) FindByDescription(ctx context.Context, description string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.doc.Memories {
		if r.Description == description {
			found := *r
			return &found, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListAll returns copies of every record.
func (c *Client) ListAll(ctx context.Context) ([]*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*storage.Record, len(c.doc.Memories))
	for i, r := range c.doc.Memories {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// GetStatus returns the agent status.
func (c *Client) GetStatus(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.doc.Status == "" {
		return "", storage.ErrNotFound
	}
	return c.doc.Status, nil
}

// SetStatus overwrites the agent status and flushes the file.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.doc.Status
	c.doc.Status = status
	if err := c.flush(); err != nil {
		c.doc.Status = prev
		return storage.Wrap("SetStatus", err)
	}
	return nil
}

// Close is a no-op; every write is already durable.
func (c *Client) Close() error {
	return nil
}

// flush writes to a temp file and renames it over the target. Caller holds mu.
func (c *Client) flush() error {
	data, err := json.MarshalIndent(c.doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.path)
}
