package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds all service configuration. Values are read from an optional
// JSON file and then overridden by environment variables, so deployments can
// ship a base config and tweak individual values per environment.
type Config struct {
	// GCP project and BigQuery dataset holding the finance tables.
	ProjectID string `json:"project_id,omitempty"`
	DatasetID string `json:"dataset_id,omitempty"`

	// GCS bucket for uploaded receipt files.
	Bucket string `json:"bucket,omitempty"`

	// HTTP server port.
	Port string `json:"port,omitempty"`

	// Gemini model used for receipt extraction.
	ModelName string `json:"model_name,omitempty"`

	// Upload limits.
	MaxUploadBytes int64 `json:"max_upload_bytes,omitempty"`

	// Job queue sizing.
	QueueBuffer int `json:"queue_buffer,omitempty"`
	Workers     int `json:"workers,omitempty"`

	// Notion sync settings.
	NotionToken      string `json:"notion_token,omitempty"`
	NotionDatabaseID string `json:"notion_database_id,omitempty"`
}

// Defaults that apply when neither the config file nor the environment sets
// a value.
const (
	DefaultDatasetID      = "finance"
	DefaultPort           = "8080"
	DefaultModelName      = "gemini-2.5-flash"
	DefaultMaxUploadBytes = 15 << 20 // 15 MiB
	DefaultQueueBuffer    = 100
	DefaultWorkers        = 5
)

// Load reads configuration from the given JSON file (skipped when path is
// empty or the file does not exist) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.ProjectID, "GCP_PROJECT")
	setFromEnv(&c.DatasetID, "BQ_DATASET")
	setFromEnv(&c.Bucket, "GCS_BUCKET")
	setFromEnv(&c.Port, "PORT")
	setFromEnv(&c.ModelName, "GEMINI_MODEL")
	setFromEnv(&c.NotionToken, "NOTION_TOKEN")
	setFromEnv(&c.NotionDatabaseID, "NOTION_DATABASE_ID")
}

func (c *Config) applyDefaults() {
	if c.DatasetID == "" {
		c.DatasetID = DefaultDatasetID
	}
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.ModelName == "" {
		c.ModelName = DefaultModelName
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.QueueBuffer <= 0 {
		c.QueueBuffer = DefaultQueueBuffer
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
}

// Validate checks that the settings required for the API and worker are set.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("config: project_id is required (set GCP_PROJECT)")
	}
	if c.Bucket == "" {
		return fmt.Errorf("config: bucket is required (set GCS_BUCKET)")
	}
	return nil
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
