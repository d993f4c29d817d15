package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmem "github.com/oceanbase/agentmem-go/pkg/core"
)

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *agentmem.Config)
	}{
		{
			name: "sqlite with openai",
			envVars: map[string]string{
				"AGENT_NAME":         "Ana",
				"AGENT_DESCRIPTION":  "Ana is a librarian.",
				"DATABASE_PROVIDER":  "sqlite",
				"SQLITE_PATH":        "./test.db",
				"LLM_PROVIDER":       "openai",
				"LLM_API_KEY":        "test-key",
				"EMBEDDING_PROVIDER": "openai",
				"EMBEDDING_API_KEY":  "test-key",
				"LLM_MODEL":          "",
				"EMBEDDING_MODEL":    "",
				"EMBEDDING_DIMS":     "",
			},
			check: func(t *testing.T, cfg *agentmem.Config) {
				assert.Equal(t, 1536, cfg.Embedder.Dimensions)
				assert.Equal(t, "Ana", cfg.Agent.Name)
				assert.Equal(t, "Ana is a librarian.", cfg.Agent.Description)
				assert.Equal(t, "./test.db", cfg.Store.Config["db_path"])
				assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
				assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
			},
		},
		{
			name: "redis with deepseek",
			envVars: map[string]string{
				"AGENT_NAME":         "Bruno",
				"DATABASE_PROVIDER":  "redis",
				"REDIS_URL":          "redis://cache:6379/2",
				"LLM_PROVIDER":       "deepseek",
				"LLM_API_KEY":        "test-key",
				"EMBEDDING_PROVIDER": "openai",
				"REFLECT_EVERY":      "40",
				"BIO_EVERY":          "40",
				"WORKER_POOL_SIZE":   "8",
				"EMBEDDING_API_KEY":  "",
				"LLM_MODEL":          "",
			},
			check: func(t *testing.T, cfg *agentmem.Config) {
				assert.Equal(t, "redis://cache:6379/2", cfg.Store.Config["url"])
				assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
				assert.Equal(t, "test-key", cfg.Embedder.APIKey, "embedder falls back to the llm key")
				assert.Equal(t, 40, cfg.Reflection.Every)
				assert.Equal(t, 40, cfg.Bio.Every)
				assert.Equal(t, 8, cfg.Pool.MaxWorkers)
			},
		},
		{
			name: "jsonfile with ollama",
			envVars: map[string]string{
				"AGENT_NAME":         "Cleo",
				"DATABASE_PROVIDER":  "jsonfile",
				"LLM_PROVIDER":       "ollama",
				"EMBEDDING_PROVIDER": "ollama",
				"JSONFILE_PATH":      "",
				"LLM_BASE_URL":       "",
				"EMBEDDING_BASE_URL": "",
				"EMBEDDING_MODEL":    "",
				"EMBEDDING_DIMS":     "",
			},
			check: func(t *testing.T, cfg *agentmem.Config) {
				assert.Equal(t, 768, cfg.Embedder.Dimensions, "nomic-embed-text width")
				assert.Equal(t, "./Cleo.json", cfg.Store.Config["path"])
				assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
				assert.Equal(t, "http://localhost:11434/v1", cfg.Embedder.BaseURL)
				assert.Equal(t, "nomic-embed-text", cfg.Embedder.Model)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			config, err := agentmem.LoadConfigFromEnv()
			require.NoError(t, err)
			require.NotNil(t, config)
			assert.Equal(t, tt.envVars["DATABASE_PROVIDER"], config.Store.Provider)
			assert.Equal(t, tt.envVars["LLM_PROVIDER"], config.LLM.Provider)
			assert.Equal(t, tt.envVars["EMBEDDING_PROVIDER"], config.Embedder.Provider)
			assert.NoError(t, config.Validate())
			tt.check(t, config)
		})
	}
}

func validConfig() *agentmem.Config {
	return &agentmem.Config{
		Agent:    agentmem.AgentConfig{Name: "Ana"},
		LLM:      agentmem.LLMConfig{Provider: "openai"},
		Embedder: agentmem.EmbedderConfig{Provider: "openai"},
		Store:    agentmem.StoreConfig{Provider: "jsonfile"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *agentmem.Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*agentmem.Config) {}},
		{name: "missing agent name", mutate: func(c *agentmem.Config) { c.Agent.Name = "" }, wantErr: true},
		{name: "missing llm provider", mutate: func(c *agentmem.Config) { c.LLM.Provider = "" }, wantErr: true},
		{name: "missing embedder provider", mutate: func(c *agentmem.Config) { c.Embedder.Provider = "" }, wantErr: true},
		{name: "missing store provider", mutate: func(c *agentmem.Config) { c.Store.Provider = "" }, wantErr: true},
		{name: "node id too large", mutate: func(c *agentmem.Config) { c.Agent.NodeID = 1024 }, wantErr: true},
		{name: "negative reflection interval", mutate: func(c *agentmem.Config) { c.Reflection.Every = -1 }, wantErr: true},
		{name: "negative bio interval", mutate: func(c *agentmem.Config) { c.Bio.Every = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, agentmem.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"agent": {"name": "Ana", "window_size": 50},
		"llm": {"provider": "anthropic", "api_key": "k", "timeout_seconds": 15},
		"embedder": {"provider": "openai", "dimensions": 256},
		"store": {"provider": "sqlite", "config": {"db_path": "/tmp/ana.db"}},
		"reflection": {"every": 40, "on_first_run": true}
	}`), 0o600))

	cfg, err := agentmem.LoadConfigFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Agent.WindowSize)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, int64(15), int64(cfg.LLM.Timeout().Seconds()))
	assert.Equal(t, 256, cfg.Embedder.Dimensions)
	assert.Equal(t, "/tmp/ana.db", cfg.Store.Config["db_path"])
	assert.True(t, cfg.Reflection.OnFirstRun)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromJSON_Errors(t *testing.T) {
	_, err := agentmem.LoadConfigFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	var memErr *agentmem.MemoryError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, "LoadConfigFromJSON", memErr.Op)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = agentmem.LoadConfigFromJSON(path)
	assert.Error(t, err)
}
