package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Qdrant      QdrantConfig              `json:"qdrant"`
	Providers   map[string]ProviderConfig `json:"providers"`
	RAG         RAGConfig                 `json:"rag"`
	Ingest      IngestConfig              `json:"ingest"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	FileBaseDir       string `json:"file_base_dir"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type QdrantConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// RAGConfig holds the retrieval tunables. Zero values are replaced with
// defaults by applyDefaults.
type RAGConfig struct {
	MinMessagesForHistory   int     `json:"min_messages_for_history"`
	RecentMessages          int     `json:"recent_messages"`
	MaxTotalTokens          int     `json:"max_total_tokens"`
	DocumentPriority        float64 `json:"document_priority"`
	SummaryRefreshThreshold int     `json:"summary_refresh_threshold"`
	SearchLimit             int     `json:"search_limit"`
	ScoreThreshold          float64 `json:"score_threshold"`
	IndexScoreThreshold     float64 `json:"index_score_threshold"`
	MaxContextLength        int     `json:"max_context_length"`
	FallbackChunks          int     `json:"fallback_chunks"`
	TableVisualLimit        int     `json:"table_visual_limit"`
	ExportMaxRows           int     `json:"export_max_rows"`
}

type IngestConfig struct {
	ChunkSize        int `json:"chunk_size"`
	ChunkOverlap     int `json:"chunk_overlap"`
	InsertBatch      int `json:"insert_batch"`
	EmbedBatch       int `json:"embed_batch"`
	EmbedMaxTexts    int `json:"embed_max_texts"`
	EmbedConcurrency int `json:"embed_concurrency"`
	IndexBatch       int `json:"index_batch"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	r := &c.RAG
	if r.MinMessagesForHistory == 0 {
		r.MinMessagesForHistory = 3
	}
	if r.RecentMessages == 0 {
		r.RecentMessages = 3
	}
	if r.MaxTotalTokens == 0 {
		r.MaxTotalTokens = 3500
	}
	if r.DocumentPriority == 0 {
		r.DocumentPriority = 0.7
	}
	if r.SummaryRefreshThreshold == 0 {
		r.SummaryRefreshThreshold = 30
	}
	if r.SearchLimit == 0 {
		r.SearchLimit = 20
	}
	if r.ScoreThreshold == 0 {
		r.ScoreThreshold = 0.3
	}
	if r.IndexScoreThreshold == 0 {
		r.IndexScoreThreshold = 0.2
	}
	if r.MaxContextLength == 0 {
		r.MaxContextLength = 4000
	}
	if r.FallbackChunks == 0 {
		r.FallbackChunks = 20
	}
	if r.TableVisualLimit == 0 {
		r.TableVisualLimit = 100
	}
	if r.ExportMaxRows == 0 {
		r.ExportMaxRows = 10000
	}

	i := &c.Ingest
	if i.ChunkSize == 0 {
		i.ChunkSize = 1200
	}
	if i.ChunkOverlap == 0 {
		i.ChunkOverlap = 200
	}
	if i.InsertBatch == 0 {
		i.InsertBatch = 100
	}
	if i.EmbedBatch == 0 {
		i.EmbedBatch = 64
	}
	if i.EmbedMaxTexts == 0 {
		i.EmbedMaxTexts = 200
	}
	if i.EmbedConcurrency == 0 {
		i.EmbedConcurrency = 3
	}
	if i.IndexBatch == 0 {
		i.IndexBatch = 50
	}

	if c.Qdrant.Dimension == 0 {
		c.Qdrant.Dimension = 1536
	}
}
