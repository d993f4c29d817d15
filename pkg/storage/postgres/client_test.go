package postgres_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/storage"
	postgresStore "github.com/oceanbase/agentmem-go/pkg/storage/postgres"
	"github.com/oceanbase/agentmem-go/pkg/storage/storagetest"
)

func newTestBackend(t *testing.T) storagetest.Opener {
	// Load .env file from project root
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: POSTGRES_PASSWORD not set")
	}

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := 5432
	if p := os.Getenv("POSTGRES_PORT"); p != "" {
		var err error
		if port, err = strconv.Atoi(p); err != nil {
			t.Skipf("Skipping PostgreSQL test: invalid POSTGRES_PORT: %s", p)
		}
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}
	dbName := os.Getenv("POSTGRES_DATABASE")
	if dbName == "" {
		dbName = "agentmem_test"
	}

	collection := fmt.Sprintf("test_memories_%d", time.Now().UnixNano())
	return func(t *testing.T, agent string) storage.MemoryStore {
		store, err := postgresStore.NewClient(&postgresStore.Config{
			Host:               host,
			Port:               port,
			User:               user,
			Password:           password,
			DBName:             dbName,
			CollectionName:     collection,
			AgentName:          agent,
			EmbeddingModelDims: 3,
		})
		if err != nil {
			t.Skipf("Skipping PostgreSQL test: %v", err)
		}
		require.NotNil(t, store)
		return store
	}
}

func TestPostgresClient_Conformance(t *testing.T) {
	storagetest.Run(t, newTestBackend)
}
