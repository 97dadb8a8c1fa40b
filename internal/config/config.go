// Package config loads server settings from a JSON config file at
// $XDG_CONFIG_HOME/memstore/config.json, with MEMSTORE_* environment
// variables overriding file values.
package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Worker  WorkerConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

// OllamaConfig points at the embedding service used by the ingest worker.
type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	DataDir      string
	EmbeddingDim int
}

type WorkerConfig struct {
	PollInterval string // Go duration string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir:      defaultDataDir(),
			EmbeddingDim: 1536,
		},
		Worker: WorkerConfig{
			PollInterval: "500ms",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "memstore-data"
		}
	}
	return filepath.Join(dir, "memstore")
}

// Load reads configuration from the config file and applies environment
// overrides. A missing config file is not an error; defaults apply.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
