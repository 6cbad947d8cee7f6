package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds amarcat's persistent defaults, loaded from a JSONC file so
// operators can annotate it with comments.
type Config struct {
	// LogLevel is the default charmbracelet/log level name ("debug",
	// "info", "warn", "error").
	LogLevel string `json:"log_level,omitempty"`

	// ContentAttr is the attribute ID pack/list/extract use for a file's
	// main content stream.
	ContentAttr uint16 `json:"content_attr,omitempty"`
}

// DefaultConfig returns amarcat's built-in defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		ContentAttr: 2,
	}
}

// ConfigFileName is the default config file name, searched for in the
// current directory when no --config flag is given.
const ConfigFileName = ".amarcat.jsonc"

// LoadConfig reads configPath if non-empty, else ConfigFileName in the
// current directory if it exists, else returns the defaults. The file may
// use JSONC (comments, trailing commas); it is standardized to JSON with
// hujson before unmarshaling.
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		if _, err := os.Stat(ConfigFileName); err != nil {
			return cfg, nil
		}
		configPath = ConfigFileName
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", filepath.Clean(configPath), err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", configPath, err)
	}

	return cfg, nil
}
