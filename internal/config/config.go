package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config encapsulates all configuration values for Cliparr.
type Config struct {
	StagingDir       string `toml:"staging_dir"`
	OutputDirectory  string `toml:"output_directory"`
	TempDir          string `toml:"temp_dir"`
	LogDir           string `toml:"log_dir"`
	APIBind          string `toml:"api_bind"`

	SonarrURL    string `toml:"sonarr_url"`
	SonarrAPIKey string `toml:"sonarr_api_key"`

	MinConfidenceThreshold float64 `toml:"min_confidence_threshold"`
	BackupOriginals        bool    `toml:"backup_originals"`
	AutoProcessVerified    bool    `toml:"auto_process_verified"`
	AutoProcessDetections  bool    `toml:"auto_process_detections"`
	ImportMode             string  `toml:"import_mode"`
	RemoveStingers         bool    `toml:"remove_stingers"`
	EncodePreset           string  `toml:"encode_preset"`

	PollingInterval  int `toml:"polling_interval"`
	CPUWorkerLimit   int `toml:"cpu_worker_limit"`
	GPUWorkerLimit   int `toml:"gpu_worker_limit"`

	ErrorRetryInterval        int `toml:"error_retry_interval"`
	WorkflowHeartbeatInterval int `toml:"workflow_heartbeat_interval"`
	WorkflowHeartbeatTimeout  int `toml:"workflow_heartbeat_timeout"`
	MaxRetries                int `toml:"max_retries"`
	RetryBackoffSeconds       int `toml:"retry_backoff_seconds"`

	LogFormat string `toml:"log_format"`
	LogLevel  string `toml:"log_level"`

	FingerprintWindowSeconds int     `toml:"fingerprint_window_seconds"`
	FingerprintStepSeconds   int     `toml:"fingerprint_step_seconds"`
	SimilarityThreshold      float64 `toml:"similarity_threshold"`
	CohortCommonFraction     float64 `toml:"cohort_common_fraction"`
	CohortMinEpisodes        int     `toml:"cohort_min_episodes"`
	CohortDebounceSeconds    int     `toml:"cohort_debounce_seconds"`

	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`

	MetricsBind string `toml:"metrics_bind"`

	NtfyTopic                string `toml:"ntfy_topic"`
	NtfyRequestTimeout       int    `toml:"ntfy_request_timeout"`
	NotifyExtraction         bool   `toml:"notify_extraction"`
	NotifyFingerprinting     bool   `toml:"notify_fingerprinting"`
	NotifyDetection          bool   `toml:"notify_detection"`
	NotifyTrim               bool   `toml:"notify_trim"`
	NotifyQueue              bool   `toml:"notify_queue"`
	NotifyErrors             bool   `toml:"notify_errors"`
	NotifyQueueMinItems      int    `toml:"notify_queue_min_items"`
	NotifyDedupWindowSeconds int    `toml:"notify_dedup_window_seconds"`
}

const (
	defaultStagingDir       = "~/.local/share/cliparr/staging"
	defaultOutputDirectory  = "~/cliparr/output"
	defaultTempDir          = "~/.local/share/cliparr/tmp"
	defaultLogDir           = "~/.local/share/cliparr/logs"
	defaultAPIBind          = "127.0.0.1:7488"
	defaultMetricsBind      = "127.0.0.1:7489"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultImportMode       = "auto"
	defaultPollingInterval  = 300
	defaultCPUWorkerLimit   = 4
	defaultGPUWorkerLimit   = 1
	defaultHeartbeatInterv  = 15
	defaultHeartbeatTimeout = 120
	defaultErrorRetry       = 10
	defaultMaxRetries       = 3
	defaultRetryBackoff     = 30
	defaultWindowSeconds    = 10
	defaultStepSeconds      = 5
	defaultSimilarity       = 0.15
	defaultCohortFraction   = 0.6
	defaultCohortMin        = 3
	defaultCohortDebounce   = 30
	defaultRedisAddr        = "127.0.0.1:6379"
	defaultEncodePreset     = "medium"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		StagingDir:                defaultStagingDir,
		OutputDirectory:           defaultOutputDirectory,
		TempDir:                   defaultTempDir,
		LogDir:                    defaultLogDir,
		APIBind:                   defaultAPIBind,
		MetricsBind:               defaultMetricsBind,
		MinConfidenceThreshold:    0.7,
		BackupOriginals:           true,
		AutoProcessVerified:       false,
		AutoProcessDetections:     false,
		ImportMode:                defaultImportMode,
		RemoveStingers:            false,
		EncodePreset:              defaultEncodePreset,
		PollingInterval:           defaultPollingInterval,
		CPUWorkerLimit:            defaultCPUWorkerLimit,
		GPUWorkerLimit:            defaultGPUWorkerLimit,
		ErrorRetryInterval:        defaultErrorRetry,
		WorkflowHeartbeatInterval: defaultHeartbeatInterv,
		WorkflowHeartbeatTimeout:  defaultHeartbeatTimeout,
		MaxRetries:                defaultMaxRetries,
		RetryBackoffSeconds:       defaultRetryBackoff,
		LogFormat:                 defaultLogFormat,
		LogLevel:                  defaultLogLevel,
		FingerprintWindowSeconds:  defaultWindowSeconds,
		FingerprintStepSeconds:    defaultStepSeconds,
		SimilarityThreshold:       defaultSimilarity,
		CohortCommonFraction:      defaultCohortFraction,
		CohortMinEpisodes:         defaultCohortMin,
		CohortDebounceSeconds:     defaultCohortDebounce,
		RedisAddr:                 defaultRedisAddr,
		NotifyDetection:           true,
		NotifyTrim:                true,
		NotifyQueue:               true,
		NotifyErrors:              true,
		NotifyQueueMinItems:       2,
		NotifyDedupWindowSeconds:  600,
	}
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cliparr/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/cliparr/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cliparr.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.StagingDir, err = expandPath(c.StagingDir); err != nil {
		return fmt.Errorf("staging_dir: %w", err)
	}
	if c.OutputDirectory, err = expandPath(c.OutputDirectory); err != nil {
		return fmt.Errorf("output_directory: %w", err)
	}
	if c.TempDir, err = expandPath(c.TempDir); err != nil {
		return fmt.Errorf("temp_dir: %w", err)
	}
	if c.LogDir, err = expandPath(c.LogDir); err != nil {
		return fmt.Errorf("log_dir: %w", err)
	}

	c.APIBind = strings.TrimSpace(c.APIBind)
	if c.APIBind == "" {
		c.APIBind = defaultAPIBind
	}
	c.MetricsBind = strings.TrimSpace(c.MetricsBind)
	if c.MetricsBind == "" {
		c.MetricsBind = defaultMetricsBind
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	switch c.LogFormat {
	case "", "console":
		c.LogFormat = "console"
	case "json":
	default:
		return fmt.Errorf("log_format: unsupported value %q", c.LogFormat)
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	c.ImportMode = strings.ToLower(strings.TrimSpace(c.ImportMode))
	if c.ImportMode == "" {
		c.ImportMode = defaultImportMode
	}

	if c.SonarrAPIKey == "" {
		if value, ok := os.LookupEnv("SONARR_API_KEY"); ok {
			c.SonarrAPIKey = value
		}
	}
	c.SonarrURL = strings.TrimSpace(c.SonarrURL)

	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	if c.RedisAddr == "" {
		c.RedisAddr = defaultRedisAddr
	}

	if c.PollingInterval == 0 {
		c.PollingInterval = defaultPollingInterval
	}
	if c.FingerprintWindowSeconds == 0 {
		c.FingerprintWindowSeconds = defaultWindowSeconds
	}
	if c.FingerprintStepSeconds == 0 {
		c.FingerprintStepSeconds = defaultStepSeconds
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = defaultSimilarity
	}
	if c.CohortCommonFraction == 0 {
		c.CohortCommonFraction = defaultCohortFraction
	}
	if c.CohortMinEpisodes == 0 {
		c.CohortMinEpisodes = defaultCohortMin
	}
	if c.CohortDebounceSeconds == 0 {
		c.CohortDebounceSeconds = defaultCohortDebounce
	}
	if c.EncodePreset == "" {
		c.EncodePreset = defaultEncodePreset
	}

	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.OutputDirectory == "" {
		return errors.New("output_directory must be set")
	}
	if c.TempDir == "" {
		return errors.New("temp_dir must be set")
	}
	switch c.ImportMode {
	case "auto", "import", "none":
	default:
		return fmt.Errorf("import_mode: unsupported value %q", c.ImportMode)
	}
	if c.MinConfidenceThreshold < 0 || c.MinConfidenceThreshold > 1 {
		return errors.New("min_confidence_threshold must be between 0 and 1")
	}
	if c.PollingInterval < 60 || c.PollingInterval > 86400 {
		return errors.New("polling_interval must be between 60 and 86400 seconds")
	}
	if c.CPUWorkerLimit < 0 || c.CPUWorkerLimit > 16 {
		return errors.New("cpu_worker_limit must be between 0 and 16")
	}
	if c.GPUWorkerLimit < 0 || c.GPUWorkerLimit > 8 {
		return errors.New("gpu_worker_limit must be between 0 and 8")
	}
	if err := ensurePositiveMap(map[string]int{
		"error_retry_interval": c.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	if c.WorkflowHeartbeatInterval <= 0 {
		return errors.New("workflow_heartbeat_interval must be positive")
	}
	if c.WorkflowHeartbeatTimeout <= 0 {
		return errors.New("workflow_heartbeat_timeout must be positive")
	}
	if c.WorkflowHeartbeatTimeout <= c.WorkflowHeartbeatInterval {
		return errors.New("workflow_heartbeat_timeout must be greater than workflow_heartbeat_interval")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return errors.New("similarity_threshold must be between 0 and 1")
	}
	if c.CohortCommonFraction <= 0 || c.CohortCommonFraction > 1 {
		return errors.New("cohort_common_fraction must be between 0 and 1")
	}
	if c.CohortMinEpisodes <= 0 {
		return errors.New("cohort_min_episodes must be positive")
	}
	if c.CohortDebounceSeconds < 0 {
		return errors.New("cohort_debounce_seconds must be zero or positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be zero or positive")
	}
	if c.RetryBackoffSeconds < 0 {
		return errors.New("retry_backoff_seconds must be zero or positive")
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.StagingDir, c.OutputDirectory, c.TempDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the FFmpeg executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// FpcalcBinary returns the Chromaprint fingerprinting executable name.
func (c *Config) FpcalcBinary() string {
	return "fpcalc"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := `# Cliparr Configuration
# ====================
# Edit the REQUIRED settings below, then customize optional settings when needed.

# ============================================================================
# REQUIRED SETTINGS
# ============================================================================

sonarr_url = "http://localhost:8989"                 # Sonarr base URL
sonarr_api_key = "your_sonarr_api_key_here"          # Sonarr API key

output_directory = "~/cliparr/output"                # Where trimmed episodes are written
temp_dir = "~/.local/share/cliparr/tmp"              # Scratch space for audio extraction/fingerprinting

# ============================================================================
# PATHS
# ============================================================================

staging_dir = "~/.local/share/cliparr/staging"       # Working directory for in-progress jobs
log_dir = "~/.local/share/cliparr/logs"              # Logs and job store database
api_bind = "127.0.0.1:7488"                          # HTTP API bind address (host:port)
metrics_bind = "127.0.0.1:7489"                      # Prometheus /metrics bind address

# ============================================================================
# DETECTION BEHAVIOR
# ============================================================================

min_confidence_threshold = 0.7                       # Minimum confidence for auto-verification
backup_originals = true                              # Preserve originals under {output_directory}/.backup
auto_process_verified = false                        # Auto-verify detections above threshold
auto_process_detections = false                      # Auto-trim verified jobs without manual review
import_mode = "auto"                                 # auto | import | none

# ============================================================================
# CONCURRENCY
# ============================================================================

polling_interval = 300                               # Sonarr polling cadence (seconds, 60-86400)
cpu_worker_limit = 4                                 # Concurrent CPU-bound stage workers (0-16)
gpu_worker_limit = 1                                 # Concurrent GPU-bound stage workers (0-8)
error_retry_interval = 10                            # Delay before retrying failures (seconds)
workflow_heartbeat_interval = 15                     # Worker heartbeat interval (seconds)
workflow_heartbeat_timeout = 120                     # Worker heartbeat timeout (seconds)
max_retries = 3                                      # Retryable stage failures re-enqueued up to N times
retry_backoff_seconds = 30                           # Base backoff before a retry (doubles per attempt)

# ============================================================================
# FINGERPRINTING & DETECTION
# ============================================================================

fingerprint_window_seconds = 10                      # Sliding window length (W)
fingerprint_step_seconds = 5                         # Sliding window stride (S)
similarity_threshold = 0.15                          # Normalized Hamming distance (delta)
cohort_common_fraction = 0.6                         # Fraction of cohort a bucket must span (tau)
cohort_min_episodes = 3                              # Minimum episodes before detection runs (K)
cohort_debounce_seconds = 30                         # Quiet period before a cohort is considered ready

# ============================================================================
# QUEUE BROKER
# ============================================================================

redis_addr = "127.0.0.1:6379"                        # Redis address for cohort locks, progress fan-out and the active-process table
redis_db = 0

# ============================================================================
# LOGGING
# ============================================================================

log_format = "console"                               # "console" or "json"
log_level = "info"                                   # info, debug, warn, error
`

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
