package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a ghost-fleet instance: the IPC
// listen surface, the ghost-context pool, the task scheduler, the browser
// control layer, the perception-action loop, and observability.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Pool          PoolConfig          `yaml:"pool"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	BCL           BCLConfig           `yaml:"bcl"`
	PAL           PALConfig           `yaml:"pal"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Diagnostics   DiagnosticsConfig   `yaml:"diagnostics"`
}

// ServerConfig configures the local IPC surface that task submitters
// connect to.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PoolConfig sizes and paces the ghost-context pool.
type PoolConfig struct {
	// MinWarm is the number of AVAILABLE slots the replenishment loop
	// tries to keep on hand.
	MinWarm int `yaml:"min_warm"`
	// MaxSlots caps the total number of ghost contexts, warm or in use.
	MaxSlots int `yaml:"max_slots"`
	// ReplenishInterval is how often the pool checks whether it is below
	// MinWarm and should open another slot.
	ReplenishInterval time.Duration `yaml:"replenish_interval"`
	// AcquireTimeout bounds how long a caller waits in the acquire queue
	// before giving up.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	// DisableAutoReplenish turns off the background replenishment loop;
	// the pool then only ever warms a slot in direct response to Acquire.
	// Replenishment is on by default (spec.md §6
	// GHOST_CONTEXT_AUTO_REPLENISH — the env var disables, it does not
	// enable, avoiding a tri-state default for a plain bool).
	DisableAutoReplenish bool `yaml:"disable_auto_replenish"`
}

// SchedulerConfig configures the parallel task scheduler.
type SchedulerConfig struct {
	// MaxConcurrentTasks caps how many tasks may hold a lease at once,
	// independent of pool size.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
	// MaxAttempts is the attempt ceiling for one task; only an attempt
	// whose session crashed is retried.
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffPolicy selects "default", "aggressive", or "conservative"
	// from the backoff package's named policies.
	BackoffPolicy string         `yaml:"backoff_policy"`
	ResourceBudget ResourceBudget `yaml:"resource_budget"`
}

// ResourceBudget bounds per-ghost-context CPU and memory consumption.
type ResourceBudget struct {
	MaxCPUPercent   float64       `yaml:"max_cpu_percent"`
	MaxMemoryMB     float64       `yaml:"max_memory_mb"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	ViolationWindow time.Duration `yaml:"violation_window"`
}

// BCLConfig configures the browser control layer's defaults.
type BCLConfig struct {
	NavigationTimeout   time.Duration `yaml:"navigation_timeout"`
	AXCharBudget        int           `yaml:"ax_char_budget"`
	AXTimeBudget        time.Duration `yaml:"ax_time_budget"`
	ScreenshotMaxTiles  int           `yaml:"screenshot_max_tiles"`
	RequestInterception string       `yaml:"request_interception"`
	HTTPCachePolicy     string        `yaml:"http_cache_policy"`
	// RemoteDebuggingPort is the browser host's debugging-protocol port
	// every ghost context is dialed through (spec.md §6,
	// GHOST_REMOTE_DEBUGGING_PORT).
	RemoteDebuggingPort int `yaml:"remote_debugging_port"`
	// Headful is handed to bcl.Options.Headful; sessions attach to an
	// already-running browser, so it does not change that browser's
	// window mode.
	Headful bool `yaml:"headful"`
}

// PALConfig configures the perception-action loop's defaults.
type PALConfig struct {
	ObservationCacheTTL  time.Duration `yaml:"observation_cache_ttl"`
	ObservationCacheSize int           `yaml:"observation_cache_size"`
	ContextWindowPairs   int           `yaml:"context_window_pairs"`
	DecisionMode         string        `yaml:"decision_mode"`
	MaxStepsPerTask      int           `yaml:"max_steps_per_task"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DiagnosticsConfig controls whether `run` serves the /ipc websocket
// endpoint.
type DiagnosticsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads, expands, and validates a configuration file, resolving any
// $include directives via LoadRaw.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile reads a single configuration file without include resolution,
// primarily for tests that construct a config inline.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyPoolDefaults(&cfg.Pool)
	applySchedulerDefaults(&cfg.Scheduler)
	applyBCLDefaults(&cfg.BCL)
	applyPALDefaults(&cfg.PAL)
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 7700
	}
}

func applyPoolDefaults(cfg *PoolConfig) {
	if cfg.MinWarm == 0 {
		cfg.MinWarm = 3
	}
	if cfg.MaxSlots == 0 {
		cfg.MaxSlots = 20
	}
	if cfg.ReplenishInterval == 0 {
		cfg.ReplenishInterval = 2 * time.Second
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
}

// defaultRemoteDebuggingPort is spec.md §6's documented default for
// GHOST_REMOTE_DEBUGGING_PORT.
const defaultRemoteDebuggingPort = 9333

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.MaxConcurrentTasks == 0 {
		cfg.MaxConcurrentTasks = 10
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffPolicy == "" {
		cfg.BackoffPolicy = "default"
	}
	applyResourceBudgetDefaults(&cfg.ResourceBudget)
}

func applyResourceBudgetDefaults(cfg *ResourceBudget) {
	if cfg.MaxCPUPercent == 0 {
		cfg.MaxCPUPercent = 80
	}
	if cfg.MaxMemoryMB == 0 {
		cfg.MaxMemoryMB = 1024
	}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = 500 * time.Millisecond
	}
	if cfg.ViolationWindow == 0 {
		cfg.ViolationWindow = 3 * time.Second
	}
}

func applyBCLDefaults(cfg *BCLConfig) {
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.AXCharBudget == 0 {
		cfg.AXCharBudget = 12000
	}
	if cfg.AXTimeBudget == 0 {
		cfg.AXTimeBudget = 3 * time.Second
	}
	if cfg.ScreenshotMaxTiles == 0 {
		cfg.ScreenshotMaxTiles = 8
	}
	if cfg.RequestInterception == "" {
		cfg.RequestInterception = "none"
	}
	if cfg.HTTPCachePolicy == "" {
		cfg.HTTPCachePolicy = "default"
	}
	if cfg.RemoteDebuggingPort == 0 {
		cfg.RemoteDebuggingPort = defaultRemoteDebuggingPort
	}
}

func applyPALDefaults(cfg *PALConfig) {
	if cfg.ObservationCacheTTL == 0 {
		cfg.ObservationCacheTTL = 5 * time.Second
	}
	if cfg.ObservationCacheSize == 0 {
		cfg.ObservationCacheSize = 256
	}
	if cfg.ContextWindowPairs == 0 {
		cfg.ContextWindowPairs = 5
	}
	if cfg.DecisionMode == "" {
		cfg.DecisionMode = "STANDARD"
	}
	if cfg.MaxStepsPerTask == 0 {
		cfg.MaxStepsPerTask = 50
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("GHOST_FLEET_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("GHOST_FLEET_LOG_FORMAT")); value != "" {
		cfg.Logging.Format = value
	}
	if value := strings.TrimSpace(os.Getenv("GHOST_FLEET_SERVER_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("GHOST_FLEET_POOL_MAX_SLOTS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Pool.MaxSlots = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("GHOST_FLEET_POOL_MIN_WARM")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Pool.MinWarm = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("GHOST_FLEET_SCHEDULER_MAX_CONCURRENT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Scheduler.MaxConcurrentTasks = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("GHOST_FLEET_DIAGNOSTICS_ENABLED")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Diagnostics.Enabled = parsed
		}
	}

	// spec.md §6 CLI / environment surface.
	if value := strings.TrimSpace(os.Getenv("GHOST_REMOTE_DEBUGGING_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.BCL.RemoteDebuggingPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("GHOST_CONTEXT_COUNT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Pool.MaxSlots = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("GHOST_CONTEXT_AUTO_REPLENISH")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Pool.DisableAutoReplenish = !parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("GHOST_HEADFUL")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.BCL.Headful = parsed
		}
	}
}

// ConfigValidationError collects every validation issue found in a config
// so a user fixes them all in one pass instead of one error at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Pool.MinWarm < 0 {
		issues = append(issues, "pool.min_warm must be >= 0")
	}
	if cfg.Pool.MaxSlots <= 0 {
		issues = append(issues, "pool.max_slots must be > 0")
	}
	if cfg.Pool.MinWarm > cfg.Pool.MaxSlots {
		issues = append(issues, "pool.min_warm must be <= pool.max_slots")
	}
	if cfg.Scheduler.MaxConcurrentTasks <= 0 {
		issues = append(issues, "scheduler.max_concurrent_tasks must be > 0")
	}
	if cfg.Scheduler.MaxAttempts <= 0 {
		issues = append(issues, "scheduler.max_attempts must be > 0")
	}
	if !validBackoffPolicy(cfg.Scheduler.BackoffPolicy) {
		issues = append(issues, `scheduler.backoff_policy must be "default", "aggressive", or "conservative"`)
	}
	if cfg.Scheduler.ResourceBudget.MaxCPUPercent <= 0 {
		issues = append(issues, "scheduler.resource_budget.max_cpu_percent must be > 0")
	}
	if cfg.Scheduler.ResourceBudget.MaxMemoryMB <= 0 {
		issues = append(issues, "scheduler.resource_budget.max_memory_mb must be > 0")
	}
	if !validRequestInterception(cfg.BCL.RequestInterception) {
		issues = append(issues, `bcl.request_interception must be "none", "block-non-essential", or "all"`)
	}
	if !validDecisionMode(cfg.PAL.DecisionMode) {
		issues = append(issues, `pal.decision_mode must be "STANDARD" or "FAST"`)
	}
	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, `logging.level must be "debug", "info", "warn", or "error"`)
	}
	if !validLogFormat(cfg.Logging.Format) {
		issues = append(issues, `logging.format must be "json" or "text"`)
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validBackoffPolicy(v string) bool {
	switch v {
	case "default", "aggressive", "conservative":
		return true
	}
	return false
}

func validRequestInterception(v string) bool {
	switch v {
	case "none", "block-non-essential", "all":
		return true
	}
	return false
}

func validDecisionMode(v string) bool {
	switch v {
	case "STANDARD", "FAST":
		return true
	}
	return false
}

func validLogLevel(v string) bool {
	switch v {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func validLogFormat(v string) bool {
	switch v {
	case "json", "text":
		return true
	}
	return false
}
