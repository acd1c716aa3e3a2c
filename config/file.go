package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// File is the on-disk configuration shared by the CLIs.
type File struct {
	Extraction ExtractionConfig `toml:"extraction"`
	Watermark  WatermarkConfig  `toml:"watermark"`
	Log        LogConfig        `toml:"log"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Report     ReportConfig     `toml:"report"`
}

type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// CatalogConfig enables the SQLite run catalog when Path is set.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// ReportConfig enables the HTML run report when Path is set.
type ReportConfig struct {
	Path string `toml:"path"`
}

// Default returns a File with all defaults applied.
func Default() File {
	return File{
		Extraction: DefaultExtraction(),
		Watermark:  DefaultWatermark(),
		Log:        LogConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins), then validates.
// A missing file is not an error when path is empty.
func Load(path string) (File, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return File{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			return File{}, fmt.Errorf("config file %s: %w", path, err)
		default:
			return File{}, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Extraction.Validate(); err != nil {
		return File{}, err
	}
	if err := cfg.Watermark.Validate(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *File) {
	if v := os.Getenv("AZURE_STORAGE_CONNECTION_STRING"); v != "" {
		cfg.Extraction.BlobConnectionString = v
	}
	if v := os.Getenv("PDFIMAGES_BLOB_CONNECTION_STRING"); v != "" {
		cfg.Extraction.BlobConnectionString = v
	}
	if v := os.Getenv("PDFIMAGES_OUTPUT_DIR"); v != "" {
		cfg.Extraction.OutputDir = v
	}
	if v := os.Getenv("PDFIMAGES_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
