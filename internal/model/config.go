package model

import "time"

// ReconnectStrategy is the progress channel reconnection strategy.
type ReconnectStrategy string

const (
	ReconnectStrategyFixed       ReconnectStrategy = "fixed"
	ReconnectStrategyExponential ReconnectStrategy = "exponential"
)

// ReconnectConfig configures the delay between progress channel reconnections.
type ReconnectConfig struct {
	Strategy ReconnectStrategy
	Delay    time.Duration
	MaxDelay time.Duration
	// Jitter is the random fraction (0..1) applied to exponential delays.
	Jitter float64
}

// ClientConfig is the user configuration of the OCR client. Zero values mean
// the defaults of each component.
type ClientConfig struct {
	APIURL            string
	WSURL             string
	Origin            string
	Token             string
	Reconnect         ReconnectConfig
	KeepaliveInterval time.Duration
	Timeout           time.Duration
	MaxFileSizeMB     int
	MaxConcurrent     int
}

// FileLimits returns the file limits of the configuration.
func (c ClientConfig) FileLimits() FileLimits {
	limits := DefaultFileLimits()
	if c.MaxFileSizeMB > 0 {
		limits.MaxSizeBytes = int64(c.MaxFileSizeMB) * 1024 * 1024
	}
	return limits
}
