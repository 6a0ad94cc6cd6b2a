package ocrtrack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/slok/ocrtrack/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
	// APIURL, Username and Password are the OCR service used by the API backend
	// tests, these are skipped when APIURL is not set.
	APIURL   string
	Username string
	Password string
	// Document is a real document the service can recognize.
	Document string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "ocrtrack"
	}

	// go test changes the CWD to the test package directory.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("OCRTRACK_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("ocrtrack binary not found at %q: %w", c.Binary, err)
	}

	if c.APIURL != "" && c.Document == "" {
		return fmt.Errorf("a document is required with the API URL (OCRTRACK_INTEGRATION_DOCUMENT)")
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "OCRTRACK_INTEGRATION"
		envBinary     = "OCRTRACK_INTEGRATION_BINARY"
		envAPIURL     = "OCRTRACK_INTEGRATION_API_URL"
		envUsername   = "OCRTRACK_INTEGRATION_USERNAME"
		envPassword   = "OCRTRACK_INTEGRATION_PASSWORD"
		envDocument   = "OCRTRACK_INTEGRATION_DOCUMENT"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary:   os.Getenv(envBinary),
		APIURL:   os.Getenv(envAPIURL),
		Username: os.Getenv(envUsername),
		Password: os.Getenv(envPassword),
		Document: os.Getenv(envDocument),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RequireAPI skips the test when no OCR service is configured.
func (c Config) RequireAPI(t *testing.T) {
	t.Helper()
	if c.APIURL == "" {
		t.Skip("Skipping: OCR service not configured (OCRTRACK_INTEGRATION_API_URL)")
	}
}

// RunOcrtrackCmd runs an ocrtrack command with an isolated history and without config file.
func RunOcrtrackCmd(ctx context.Context, config Config, dbPath, cmdArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("--no-log --no-color --config= --db-path %s %s", dbPath, cmdArgs)
	return testutils.RunOcrtrack(ctx, nil, config.Binary, args, true)
}

// RunProcessFake processes documents with the fake backend.
func RunProcessFake(ctx context.Context, config Config, dbPath string, files ...string) (stdout, stderr []byte, err error) {
	args := []string{
		"--no-log", "--no-color", "--config=", "--db-path", dbPath,
		"process", "--backend", "fake", "--fake-pages", "2", "--fake-page-delay", "10ms", "--format", "json",
	}
	args = append(args, files...)
	return testutils.RunOcrtrackArgs(ctx, nil, config.Binary, args, true)
}

// RunProcessAPI processes documents with the OCR service.
func RunProcessAPI(ctx context.Context, config Config, dbPath string, files ...string) (stdout, stderr []byte, err error) {
	args := []string{
		"--no-log", "--no-color", "--config=", "--db-path", dbPath, "--api-url", config.APIURL,
		"process", "--format", "json", "--username", config.Username, "--password", config.Password,
	}
	args = append(args, files...)
	return testutils.RunOcrtrackArgs(ctx, nil, config.Binary, args, true)
}
