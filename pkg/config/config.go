package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log struct {
		Dir   string `yaml:"dir"`
		Level string `yaml:"level"`
		Mode  string `yaml:"mode"`
	} `yaml:"log"`

	DataDir string `yaml:"data_dir"`

	PubTator struct {
		BaseURL        string  `yaml:"base_url"`
		BatchSize      int     `yaml:"batch_size"`
		RateLimit      float64 `yaml:"rate_limit"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		FullText       *bool   `yaml:"full_text"`
	} `yaml:"pubtator"`

	Merge struct {
		Policy     string   `yaml:"policy"`
		Categories []string `yaml:"categories"`
		Workers    int      `yaml:"workers"`
	} `yaml:"merge"`

	Extract struct {
		Resource string `yaml:"resource"`
	} `yaml:"extract"`

	Aggregate struct {
		ConceptDirs       []string `yaml:"concept_dirs"`
		RelationDirs      []string `yaml:"relation_dirs"`
		ConceptBatchSize  int      `yaml:"concept_batch_size"`
		RelationBatchSize int      `yaml:"relation_batch_size"`
		Workers           int      `yaml:"workers"`
	} `yaml:"aggregate"`

	Checkpoint struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
		S3      struct {
			Region    string `yaml:"region"`
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			Prefix    string `yaml:"prefix"`
		} `yaml:"s3"`
		Postgres struct {
			URL   string `yaml:"url"`
			Table string `yaml:"table"`
		} `yaml:"postgres"`
	} `yaml:"checkpoint"`

	Neo4j struct {
		URI            string `yaml:"uri"`
		User           string `yaml:"user"`
		Password       string `yaml:"password"`
		Database       string `yaml:"database"`
		BatchSize      int    `yaml:"batch_size"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxPoolSize    int    `yaml:"max_pool_size"`
	} `yaml:"neo4j"`
}

// Directory names under DataDir.
const (
	FetchedDir        = "api"
	BaseTaggerDir     = "aioner"
	RelationTaggerDir = "biorex"
	MergedDir         = "merged"
	RelatedDir        = "related"
	ConceptDir        = "bioconcepts2pubtator3"
	RelationDir       = "relation2pubtator3"
	AggregateDir      = "aggregate"
)

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/pubgraph/config.yaml"),
			"/etc/pubgraph/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

// Path joins elem onto the data directory.
func (c *Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.DataDir}, elem...)...)
}

// SetDataDir moves the data directory. Directories still at the defaults
// derived from the old data directory move with it.
func (c *Config) SetDataDir(dir string) {
	moved := func(dirs []string, name string) []string {
		if len(dirs) == 1 && dirs[0] == c.Path(name) {
			return []string{filepath.Join(dir, name)}
		}
		return dirs
	}
	c.Aggregate.ConceptDirs = moved(c.Aggregate.ConceptDirs, ConceptDir)
	c.Aggregate.RelationDirs = moved(c.Aggregate.RelationDirs, RelationDir)
	if c.Checkpoint.Dir == c.Path(AggregateDir) {
		c.Checkpoint.Dir = filepath.Join(dir, AggregateDir)
	}
	c.DataDir = dir
}

func applyDefaults(config *Config) {
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Mode == "" {
		config.Log.Mode = "dev"
	}

	if config.DataDir == "" {
		config.DataDir = "data"
	}

	if config.PubTator.BaseURL == "" {
		config.PubTator.BaseURL = "https://www.ncbi.nlm.nih.gov/research/pubtator3-api/publications/export/biocxml"
	}
	if config.PubTator.BatchSize == 0 {
		config.PubTator.BatchSize = 100
	}
	if config.PubTator.RateLimit == 0 {
		config.PubTator.RateLimit = 3
	}
	if config.PubTator.TimeoutSeconds == 0 {
		config.PubTator.TimeoutSeconds = 60
	}
	if config.PubTator.FullText == nil {
		full := true
		config.PubTator.FullText = &full
	}

	if config.Merge.Policy == "" {
		config.Merge.Policy = "strict"
	}
	if config.Merge.Workers == 0 {
		config.Merge.Workers = 8
	}

	if config.Extract.Resource == "" {
		config.Extract.Resource = "PubTator3"
	}

	if len(config.Aggregate.ConceptDirs) == 0 {
		config.Aggregate.ConceptDirs = []string{config.Path(ConceptDir)}
	}
	if len(config.Aggregate.RelationDirs) == 0 {
		config.Aggregate.RelationDirs = []string{config.Path(RelationDir)}
	}
	if config.Aggregate.ConceptBatchSize == 0 {
		config.Aggregate.ConceptBatchSize = 1280000
	}
	if config.Aggregate.RelationBatchSize == 0 {
		config.Aggregate.RelationBatchSize = 128000
	}
	if config.Aggregate.Workers == 0 {
		config.Aggregate.Workers = 24
	}

	if config.Checkpoint.Backend == "" {
		config.Checkpoint.Backend = "file"
	}
	if config.Checkpoint.Dir == "" {
		config.Checkpoint.Dir = config.Path(AggregateDir)
	}
	if config.Checkpoint.S3.Prefix == "" {
		config.Checkpoint.S3.Prefix = "pubgraph"
	}
	if config.Checkpoint.Postgres.Table == "" {
		config.Checkpoint.Postgres.Table = "pubgraph_checkpoints"
	}

	if config.Neo4j.URI == "" {
		config.Neo4j.URI = "bolt://localhost:7687"
	}
	if config.Neo4j.User == "" {
		config.Neo4j.User = "neo4j"
	}
	if config.Neo4j.Database == "" {
		config.Neo4j.Database = "neo4j"
	}
	if config.Neo4j.BatchSize == 0 {
		config.Neo4j.BatchSize = 10000
	}
	if config.Neo4j.TimeoutSeconds == 0 {
		config.Neo4j.TimeoutSeconds = 10
	}
	if config.Neo4j.MaxPoolSize == 0 {
		config.Neo4j.MaxPoolSize = 50
	}
}

func mergeWithEnv(config *Config) {
	if v := os.Getenv("PUBTATOR_BASE_URL"); v != "" {
		config.PubTator.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Checkpoint.Postgres.URL = v
	}
	if v := os.Getenv("NEO4J_URI"); v != "" {
		config.Neo4j.URI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" {
		config.Neo4j.User = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		config.Neo4j.Password = v
	}
	if v := os.Getenv("NEO4J_DATABASE"); v != "" {
		config.Neo4j.Database = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Checkpoint.S3.Region = v
	}
	if v := os.Getenv("AWS_ENDPOINT"); v != "" {
		config.Checkpoint.S3.Endpoint = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY"); v != "" {
		config.Checkpoint.S3.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_KEY"); v != "" {
		config.Checkpoint.S3.SecretKey = v
	}
	if v := os.Getenv("AWS_BUCKET"); v != "" {
		config.Checkpoint.S3.Bucket = v
	}
}
