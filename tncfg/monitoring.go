package tncfg

import (
	"fmt"
	"time"
)

// DefaultPrometheusListen is the default address of the metrics endpoint.
const DefaultPrometheusListen = "127.0.0.1:8989"

// Prometheus configures the Prometheus exporter.
//
//nolint:lll
type Prometheus struct {
	Enable bool `long:"enable" description:"Enable the Prometheus metrics exporter"`

	Listen string `long:"listen" description:"The address the metrics exporter listens on"`
}

// DefaultPrometheus is the default configuration for the Prometheus metrics
// exporter.
func DefaultPrometheus() Prometheus {
	return Prometheus{
		Listen: DefaultPrometheusListen,
	}
}

// Enabled returns whether or not Prometheus monitoring is enabled.
func (p *Prometheus) Enabled() bool {
	return p.Enable
}

const (
	// DefaultMinDiskSpace is the default fraction of free disk space
	// required below the data directory.
	DefaultMinDiskSpace = 0.1

	// DefaultHealthInterval is how often the disk space is checked.
	DefaultHealthInterval = time.Minute

	// DefaultHealthTimeout bounds one disk space check.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultHealthBackoff is the wait before retrying a failed check.
	DefaultHealthBackoff = 30 * time.Second

	// DefaultHealthAttempts is how often a check may fail in a row before
	// the node shuts down.
	DefaultHealthAttempts = 2
)

// CheckConfig holds the settings of one health check.
//
//nolint:lll
type CheckConfig struct {
	Interval time.Duration `long:"interval" description:"How often the check runs"`

	Attempts int `long:"attempts" description:"The number of failed checks in a row before shutting down. 0 disables the check"`

	Timeout time.Duration `long:"timeout" description:"How long a single check may take"`

	Backoff time.Duration `long:"backoff" description:"The wait before retrying a failed check"`
}

// Validate checks the settings of a health check.
func (c *CheckConfig) Validate() error {
	if c.Attempts < 0 {
		return fmt.Errorf("attempts must not be negative")
	}
	if c.Attempts > 0 && (c.Interval <= 0 || c.Timeout <= 0) {
		return fmt.Errorf("interval and timeout must be positive")
	}

	return nil
}

// DiskCheckConfig holds the settings of the disk space check.
//
//nolint:lll
type DiskCheckConfig struct {
	RequiredRemaining float64 `long:"diskrequired" description:"The minimum fraction of free space below the data directory"`

	*CheckConfig
}

// HealthCheckConfig holds the settings of every health check.
type HealthCheckConfig struct {
	DiskCheck *DiskCheckConfig `group:"diskcheck" namespace:"diskcheck"`
}

// DefaultHealthChecks returns the default health check settings.
func DefaultHealthChecks() *HealthCheckConfig {
	return &HealthCheckConfig{
		DiskCheck: &DiskCheckConfig{
			RequiredRemaining: DefaultMinDiskSpace,
			CheckConfig: &CheckConfig{
				Interval: DefaultHealthInterval,
				Attempts: DefaultHealthAttempts,
				Timeout:  DefaultHealthTimeout,
				Backoff:  DefaultHealthBackoff,
			},
		},
	}
}

// Validate checks every health check.
func (h *HealthCheckConfig) Validate() error {
	disk := h.DiskCheck
	if disk.RequiredRemaining < 0 || disk.RequiredRemaining >= 1 {
		return fmt.Errorf("disk required remaining must be in [0, 1)")
	}

	return disk.CheckConfig.Validate()
}
