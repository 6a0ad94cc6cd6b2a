package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	sdklib "github.com/slok/ocrtrack/pkg/lib"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	APIURL   string
	Username string
	Password string
	Document string
}

func (c *Config) defaults() error {
	if c.APIURL == "" {
		return fmt.Errorf("OCR service URL is required (OCRTRACK_INTEGRATION_API_URL)")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("credentials are required (OCRTRACK_INTEGRATION_USERNAME, OCRTRACK_INTEGRATION_PASSWORD)")
	}

	if c.Document == "" {
		return fmt.Errorf("document is required (OCRTRACK_INTEGRATION_DOCUMENT)")
	}
	if _, err := os.Stat(c.Document); err != nil {
		return fmt.Errorf("document not found at %q: %w", c.Document, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "OCRTRACK_INTEGRATION"
		envAPIURL     = "OCRTRACK_INTEGRATION_API_URL"
		envUsername   = "OCRTRACK_INTEGRATION_USERNAME"
		envPassword   = "OCRTRACK_INTEGRATION_PASSWORD"
		envDocument   = "OCRTRACK_INTEGRATION_DOCUMENT"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
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

// NewTestClient creates an SDK client against the OCR service with a temp history DB.
func NewTestClient(t *testing.T, config Config) *sdklib.Client {
	t.Helper()

	client, err := sdklib.New(sdklib.Config{
		APIURL:        config.APIURL,
		HistoryDBPath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}
