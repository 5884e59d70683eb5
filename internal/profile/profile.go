// Package profile holds the runtime configuration assembled from flags
// and environment variables at startup.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the chat engine.
type Profile struct {
	// Remote completion provider (OpenAI-compatible protocol).
	RemoteAPIKey  string // Bearer credential; absence makes remote calls fail with a configuration error.
	RemoteBaseURL string // Optional override, defaults to the OpenAI endpoint.
	RemoteModel   string // Model name, e.g. gpt-4o.
	RemoteTimeout int    // Request timeout in seconds (default: 120).

	// Local completion provider (Ollama).
	LocalBaseURL string // Defaults to http://127.0.0.1:11434.
	LocalModel   string // Preferred local model; substituted when not installed.

	Mode        string // demo, dev, prod
	Data        string // Data directory for the embedded database.
	Driver      string // Database driver, currently sqlite only.
	DSN         string // Driver-specific data source name.
	ChatMode    string // Startup chat mode: online or offline.
	MetricsAddr string // Optional address for the Prometheus metrics endpoint.
	Version     string
}

const (
	defaultRemoteModel = "gpt-4o"
	defaultLocalModel  = "llama3.1"
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads provider configuration from environment variables.
func (p *Profile) FromEnv() {
	p.RemoteAPIKey = getEnvOrDefault("PARLEY_REMOTE_API_KEY", "")
	p.RemoteBaseURL = getEnvOrDefault("PARLEY_REMOTE_BASE_URL", "")
	p.RemoteModel = getEnvOrDefault("PARLEY_REMOTE_MODEL", defaultRemoteModel)
	p.RemoteTimeout = getEnvOrDefaultInt("PARLEY_REMOTE_TIMEOUT_SECONDS", 120)

	p.LocalBaseURL = getEnvOrDefault("PARLEY_LOCAL_BASE_URL", "")
	p.LocalModel = getEnvOrDefault("PARLEY_LOCAL_MODEL", defaultLocalModel)

	if p.ChatMode == "" {
		p.ChatMode = getEnvOrDefault("PARLEY_CHAT_MODE", "online")
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.ChatMode != "online" && p.ChatMode != "offline" {
		slog.Warn("unknown chat mode, falling back to online", "mode", p.ChatMode)
		p.ChatMode = "online"
	}

	if p.Driver == "" {
		p.Driver = "sqlite"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/parley"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("parley_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
