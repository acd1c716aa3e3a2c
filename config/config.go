// Package config holds the validated extraction and watermark settings.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Target names where extracted images are persisted.
type Target string

const (
	TargetLocal Target = "local"
	TargetBlob  Target = "blob"
)

// DefaultOutputDir is used when no output directory is configured.
const DefaultOutputDir = "extracted_images"

// ExtractionConfig controls which images are extracted and where they go.
// Zero values disable the corresponding filter.
type ExtractionConfig struct {
	// DimLimit skips images whose smaller side is below this many pixels.
	DimLimit int `toml:"dim_limit"`
	// RelSize skips images whose byte size relative to width*height*components is below this ratio.
	RelSize float64 `toml:"rel_size"`
	// AbsSize skips images smaller than this many bytes.
	AbsSize int `toml:"abs_size"`
	// OutputDir is the local directory, or the blob container name. An empty
	// local directory is the working directory.
	OutputDir string `toml:"output_dir"`
	// BlobConnectionString switches the output target to Azure Blob Storage.
	BlobConnectionString string `toml:"blob_connection_string"`
}

// DefaultExtraction returns a config with no filters and the default output directory.
func DefaultExtraction() ExtractionConfig {
	return ExtractionConfig{OutputDir: DefaultOutputDir}
}

// Validate checks filter ranges.
func (c ExtractionConfig) Validate() error {
	if c.RelSize < 0.0 || c.RelSize > 1.0 {
		return fmt.Errorf("%w: rel_size must be between 0.0 and 1.0, got %v", ErrInvalidConfig, c.RelSize)
	}
	if c.DimLimit < 0 {
		return fmt.Errorf("%w: dim_limit must be non-negative, got %d", ErrInvalidConfig, c.DimLimit)
	}
	if c.AbsSize < 0 {
		return fmt.Errorf("%w: abs_size must be non-negative, got %d", ErrInvalidConfig, c.AbsSize)
	}
	return nil
}

// OutputTarget is blob when a connection string is configured, local otherwise.
func (c ExtractionConfig) OutputTarget() Target {
	if c.BlobConnectionString != "" {
		return TargetBlob
	}
	return TargetLocal
}

// BaseURL is the public prefix of uploaded blobs, or "" for local output.
func (c ExtractionConfig) BaseURL() string {
	if c.BlobConnectionString == "" {
		return ""
	}
	account := ConnectionStringValue(c.BlobConnectionString, "AccountName")
	if account == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/", account, c.OutputDir)
}

// ConnectionStringValue returns the value of key in an Azure style
// "Key=Value;Key=Value" connection string. Keys match case-insensitively.
func ConnectionStringValue(conn, key string) string {
	for _, part := range strings.Split(conn, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
