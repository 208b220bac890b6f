package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for the server
	Addr string
	// Port is the binding port for the server
	Port int
	// Data is the data directory (database file, durable document copies)
	Data string
	// DSN points to where navigator stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of the server
	Version string

	// AI Configuration
	AIAPIKey      string // NAVIGATOR_AI_API_KEY
	AIBaseURL     string // NAVIGATOR_AI_BASE_URL (default: https://api.openai.com/v1)
	AIVisionModel string // NAVIGATOR_AI_VISION_MODEL (default: gpt-4o-mini)
	AIMaxTokens   int    // NAVIGATOR_AI_MAX_TOKENS (default: 1024)
	// AIRequestsPerMinute caps outgoing inference calls. Zero disables the limiter.
	AIRequestsPerMinute int // NAVIGATOR_AI_REQUESTS_PER_MINUTE (default: 30)

	// AnalysisWorkers bounds concurrent analysis turns across all sessions.
	AnalysisWorkers int // NAVIGATOR_ANALYSIS_WORKERS (default: 4)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIConfigured returns true if an inference API key is configured.
func (p *Profile) IsAIConfigured() bool {
	return p.AIAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// FromEnv loads configuration from NAVIGATOR_* environment variables.
func (p *Profile) FromEnv() {
	p.AIAPIKey = os.Getenv("NAVIGATOR_AI_API_KEY")
	p.AIBaseURL = getEnvOrDefault("NAVIGATOR_AI_BASE_URL", "https://api.openai.com/v1")
	p.AIVisionModel = getEnvOrDefault("NAVIGATOR_AI_VISION_MODEL", "gpt-4o-mini")
	p.AIMaxTokens = getIntEnvOrDefault("NAVIGATOR_AI_MAX_TOKENS", 1024)
	p.AIRequestsPerMinute = getIntEnvOrDefault("NAVIGATOR_AI_REQUESTS_PER_MINUTE", 30)
	p.AnalysisWorkers = getIntEnvOrDefault("NAVIGATOR_ANALYSIS_WORKERS", 4)
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
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Driver == "" {
		p.Driver = "sqlite"
	}

	if p.AnalysisWorkers <= 0 {
		p.AnalysisWorkers = 4
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("navigator_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
