//nolint:lll
package config

// Config represents the complete configuration for the epipolar application.
// It includes settings for all commands (estimate, linear, demo, serve) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Robust estimation
	RANSAC RANSACConfig `mapstructure:"ransac" yaml:"ransac" json:"ransac"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// RANSACConfig contains robust estimator settings.
type RANSACConfig struct {
	Iterations int     `mapstructure:"iterations" yaml:"iterations" json:"iterations"`
	Threshold  float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	Seed       uint64  `mapstructure:"seed" yaml:"seed" json:"seed"`
	Workers    int     `mapstructure:"workers" yaml:"workers" json:"workers"`
	Metric     string  `mapstructure:"metric" yaml:"metric" json:"metric"`
	Refine     bool    `mapstructure:"refine" yaml:"refine" json:"refine"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format    string `mapstructure:"format" yaml:"format" json:"format"`
	Precision int    `mapstructure:"precision" yaml:"precision" json:"precision"`
	File      string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxBodyMB       int    `mapstructure:"max_body_mb" yaml:"max_body_mb" json:"max_body_mb"`
	MaxIterations   int    `mapstructure:"max_iterations" yaml:"max_iterations" json:"max_iterations"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Rate limiting
	RateLimitEnabled  bool `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxMatchesPerDay  int  `mapstructure:"max_matches_per_day" yaml:"max_matches_per_day" json:"max_matches_per_day"`
}
