package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Supported store drivers.
const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

// Supported OCR engines.
const (
	OCREngineTesseract = "tesseract"
	OCREngineOpenAI    = "openai"
	OCREngineNoop      = "noop"
)

// Config holds all configuration for ekaya-recorder.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys, tokens) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// FilesDir is app-private storage for JPEGs, CSVs and archives.
	FilesDir string `yaml:"files_dir" env:"FILES_DIR" env-default:"./data/files"`

	// Timezone used for the natural-time CSV columns and local timestamps.
	Timezone string `yaml:"timezone" env:"RECORDER_TIMEZONE" env-default:"Local"`

	// RestrictedAppsFile seeds the restricted-app table on startup (optional).
	RestrictedAppsFile string `yaml:"restricted_apps_file" env:"RESTRICTED_APPS_FILE" env-default:""`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Device   DeviceConfig   `yaml:"device"`
	Capture  CaptureConfig  `yaml:"capture"`
	Segment  SegmentConfig  `yaml:"segment"`
	OCR      OCRConfig      `yaml:"ocr"`
	Zip      ZipConfig      `yaml:"zip"`
	Upload   UploadConfig   `yaml:"upload"`
	Schedule ScheduleConfig `yaml:"schedule"`
	MCP      MCPConfig      `yaml:"mcp"`
}

// DatabaseConfig selects and configures the durable record store.
type DatabaseConfig struct {
	Driver         string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	Path           string `yaml:"path" env:"DB_PATH" env-default:"./data/recorder.sqlite"`
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_recorder"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int    `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
}

// RedisConfig holds the optional status mirror. Empty host disables it.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Channel  string `yaml:"channel" env:"REDIS_STATUS_CHANNEL" env-default:"recorder:status"`
}

// DeviceConfig locates the device bridge's artifacts on the host.
type DeviceConfig struct {
	// SpoolDir receives frames written by the virtual-display mirror.
	SpoolDir string `yaml:"spool_dir" env:"DEVICE_SPOOL_DIR" env-default:"./data/spool"`
	// PowerSupplyDir is scanned for "online" files to detect external power.
	PowerSupplyDir string `yaml:"power_supply_dir" env:"DEVICE_POWER_SUPPLY_DIR" env-default:"/sys/class/power_supply"`
	// ConnectivityProbe is a host:port dialed to confirm reachability.
	// Defaults to the upload broker host when empty.
	ConnectivityProbe string        `yaml:"connectivity_probe" env:"DEVICE_CONNECTIVITY_PROBE" env-default:""`
	ProbeTimeout      time.Duration `yaml:"probe_timeout" env:"DEVICE_PROBE_TIMEOUT" env-default:"3s"`
}

// CaptureConfig tunes the capture loop.
type CaptureConfig struct {
	// FPS is a key into FPSIntervals; its interval drives the ticker.
	FPS                    float64       `yaml:"fps" env:"CAPTURE_FPS" env-default:"0.33"`
	JPEGQuality            int           `yaml:"jpeg_quality" env:"CAPTURE_JPEG_QUALITY" env-default:"50"`
	SessionRotateCaptures  int           `yaml:"session_rotate_captures" env:"CAPTURE_SESSION_ROTATE_CAPTURES" env-default:"5"`
	MinFreeStoragePercent  float64       `yaml:"min_free_storage_percent" env:"CAPTURE_MIN_FREE_STORAGE_PERCENT" env-default:"10"`
	LowStorageWarnEvery    time.Duration `yaml:"low_storage_warn_every" env:"CAPTURE_LOW_STORAGE_WARN_EVERY" env-default:"30m"`
	FrameRetryAttempts     int           `yaml:"frame_retry_attempts" env:"CAPTURE_FRAME_RETRY_ATTEMPTS" env-default:"3"`
	FrameRetryDelay        time.Duration `yaml:"frame_retry_delay" env:"CAPTURE_FRAME_RETRY_DELAY" env-default:"200ms"`
	Timeout                time.Duration `yaml:"timeout" env:"CAPTURE_TIMEOUT" env-default:"5s"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" env:"CAPTURE_MAX_CONSECUTIVE_FAILURES" env-default:"3"`
	RestartDelay           time.Duration `yaml:"restart_delay" env:"CAPTURE_RESTART_DELAY" env-default:"1s"`
	MaxRestarts            int           `yaml:"max_restarts" env:"CAPTURE_MAX_RESTARTS" env-default:"20"`
}

// FPSIntervals maps the user-facing frames-per-second setting to a tick interval.
var FPSIntervals = map[float64]time.Duration{
	0.33: 3 * time.Second,
	0.2:  5 * time.Second,
	0.1:  10 * time.Second,
}

// DefaultCaptureInterval is used for FPS values missing from FPSIntervals.
const DefaultCaptureInterval = 3 * time.Second

// Interval returns the tick interval for the configured FPS.
func (c *CaptureConfig) Interval() time.Duration {
	return IntervalForFPS(c.FPS)
}

// IntervalForFPS maps an FPS setting to its tick interval.
func IntervalForFPS(fps float64) time.Duration {
	if d, ok := FPSIntervals[fps]; ok {
		return d
	}
	return DefaultCaptureInterval
}

// SegmentConfig holds the app-segment duration floors.
type SegmentConfig struct {
	MinDurationMs         int64 `yaml:"min_duration_ms" env:"SEGMENT_MIN_DURATION_MS" env-default:"3000"`
	TrailingMinDurationMs int64 `yaml:"trailing_min_duration_ms" env:"SEGMENT_TRAILING_MIN_DURATION_MS" env-default:"3000"`
}

// OCRConfig selects the text-recognition engine and bounds each pass.
type OCRConfig struct {
	Engine        string        `yaml:"engine" env:"OCR_ENGINE" env-default:"tesseract"`
	DataPath      string        `yaml:"data_path" env:"OCR_DATA_PATH" env-default:""`
	Language      string        `yaml:"language" env:"OCR_LANGUAGE" env-default:"eng"`
	Mode          int           `yaml:"mode" env:"OCR_MODE" env-default:"1"`
	TesseractPath string        `yaml:"tesseract_path" env:"OCR_TESSERACT_PATH" env-default:"tesseract"`
	Endpoint      string        `yaml:"endpoint" env:"OCR_ENDPOINT" env-default:""`
	Model         string        `yaml:"model" env:"OCR_MODEL" env-default:""`
	APIKey        string        `yaml:"-" env:"OCR_API_KEY"` // Secret - not in YAML
	MinBacklog    int           `yaml:"min_backlog" env:"OCR_MIN_BACKLOG" env-default:"10"`
	FetchLimit    int           `yaml:"fetch_limit" env:"OCR_FETCH_LIMIT" env-default:"200"`
	BatchSize     int           `yaml:"batch_size" env:"OCR_BATCH_SIZE" env-default:"10"`
	KeepWarm      bool          `yaml:"keep_warm" env:"OCR_KEEP_WARM" env-default:"false"`
	Timeout       time.Duration `yaml:"timeout" env:"OCR_TIMEOUT" env-default:"30s"`
}

// ZipConfig bounds the batching engine.
type ZipConfig struct {
	PageSize                int           `yaml:"page_size" env:"ZIP_PAGE_SIZE" env-default:"50"`
	LogFlushThreshold       int           `yaml:"log_flush_threshold" env:"ZIP_LOG_FLUSH_THRESHOLD" env-default:"1"`
	LogFetchLimit           int           `yaml:"log_fetch_limit" env:"ZIP_LOG_FETCH_LIMIT" env-default:"1000"`
	LogDeleteChunk          int           `yaml:"log_delete_chunk" env:"ZIP_LOG_DELETE_CHUNK" env-default:"100"`
	AccessibilityFetchLimit int           `yaml:"accessibility_fetch_limit" env:"ZIP_ACCESSIBILITY_FETCH_LIMIT" env-default:"500"`
	OrphanMaxAge            time.Duration `yaml:"orphan_max_age" env:"ZIP_ORPHAN_MAX_AGE" env-default:"1h"`
}

// UploadConfig configures the signed-URL broker and the upload pass.
type UploadConfig struct {
	BrokerURL    string        `yaml:"broker_url" env:"UPLOAD_BROKER_URL" env-default:""`
	BrokerToken  string        `yaml:"-" env:"UPLOAD_BROKER_TOKEN"` // Secret - not in YAML
	BatchSize    int           `yaml:"batch_size" env:"UPLOAD_BATCH_SIZE" env-default:"10"`
	BuildVersion string        `yaml:"build_version" env:"UPLOAD_BUILD_VERSION" env-default:"V_12"`
	TestMode     bool          `yaml:"test_mode" env:"UPLOAD_TEST_MODE" env-default:"false"`
	Timeout      time.Duration `yaml:"timeout" env:"UPLOAD_TIMEOUT" env-default:"60s"`
}

// ScheduleConfig holds the periodic pass intervals.
type ScheduleConfig struct {
	OcrInterval     time.Duration `yaml:"ocr_interval" env:"SCHEDULE_OCR_INTERVAL" env-default:"60s"`
	ZipInterval     time.Duration `yaml:"zip_interval" env:"SCHEDULE_ZIP_INTERVAL" env-default:"60s"`
	UploadInterval  time.Duration `yaml:"upload_interval" env:"SCHEDULE_UPLOAD_INTERVAL" env-default:"60s"`
	MetricsInterval time.Duration `yaml:"metrics_interval" env:"SCHEDULE_METRICS_INTERVAL" env-default:"15m"`
	StatusInterval  time.Duration `yaml:"status_interval" env:"SCHEDULE_STATUS_INTERVAL" env-default:"30s"`
}

// MCPConfig controls the MCP endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
	// Token, when set, must be presented as a bearer token on /mcp.
	Token       string `yaml:"-" env:"MCP_TOKEN"` // Secret - not in YAML
	LogRequests bool   `yaml:"log_requests" env:"MCP_LOG_REQUESTS" env-default:"false"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A .env file in the working directory is loaded first when present.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate checks cross-field constraints cleanenv cannot express.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPgx:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.OCR.Engine {
	case OCREngineTesseract, OCREngineNoop:
	case OCREngineOpenAI:
		if c.OCR.Endpoint == "" || c.OCR.Model == "" {
			return fmt.Errorf("ocr engine %q requires endpoint and model", c.OCR.Engine)
		}
	default:
		return fmt.Errorf("unsupported ocr engine %q", c.OCR.Engine)
	}

	if c.Zip.PageSize <= 0 {
		return fmt.Errorf("zip.page_size must be positive")
	}
	if c.OCR.BatchSize <= 0 || c.OCR.FetchLimit <= 0 {
		return fmt.Errorf("ocr.batch_size and ocr.fetch_limit must be positive")
	}
	if c.Upload.BatchSize <= 0 {
		return fmt.Errorf("upload.batch_size must be positive")
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality must be within 1..100")
	}
	if c.Segment.MinDurationMs < 0 || c.Segment.TrailingMinDurationMs < 0 {
		return fmt.Errorf("segment duration floors must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DSN returns the driver-specific data source name.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", c.Path)
	}
	return c.ConnectionString()
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
}

// ProbeAddr returns the host:port dialed for connectivity checks.
func (c *Config) ProbeAddr() string {
	if c.Device.ConnectivityProbe != "" {
		return c.Device.ConnectivityProbe
	}
	u, err := url.Parse(c.Upload.BrokerURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
