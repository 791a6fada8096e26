package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// Config holds all service settings, populated from environment
// variables (a .env file is loaded first when present).
type Config struct {
	// Run window and spatial extent.
	Provider    string // "s5p", "modis", or "era5"
	ProductType string
	StartDate   time.Time
	EndDate     time.Time
	Boundary    domain.Boundary
	RegionGate  *domain.Boundary // optional; frames with no coverage inside it are dropped
	Limit       int              // catalog result cap, 0 = no cap

	// Quality filtering and regridding.
	QAThreshold   float64
	Resolution    domain.Resolution
	InterpMethod  string
	RBFKernel     string
	Neighbors     int
	MaxDistanceDG float64 // maximum search distance in degrees
	Period        domain.Period

	// Download behaviour.
	MaxConcurrency  int
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	CatalogTimeout  time.Duration
	DownloadTimeout time.Duration

	// Storage and housekeeping.
	DataDir       string
	RetentionDays int

	// Service surface.
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ScheduleCron    string // empty = one-shot run

	// Optional composite-summary publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Provider credentials.
	CopernicusUsername string
	CopernicusPassword string
	EarthdataUsername  string
	EarthdataPassword  string
	CDSAPIURL          string
	CDSAPIKey          string
}

// Load reads configuration from the environment, applying defaults where
// unset. Credential absence for the requested provider is a fail-fast
// configuration error, not something to retry at run time.
func Load() (*Config, error) {
	// Best effort: a missing .env file is fine, real env vars win.
	_ = godotenv.Load()

	cfg := &Config{
		Provider:    strings.ToLower(envOrDefault("PROVIDER", "s5p")),
		ProductType: os.Getenv("PRODUCT_TYPE"),

		InterpMethod: strings.ToLower(envOrDefault("INTERP_METHOD", "rbf")),
		RBFKernel:    strings.ToLower(envOrDefault("RBF_KERNEL", "thin_plate")),

		DataDir:      envOrDefault("DATA_DIR", "data"),
		HTTPAddr:     envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
		LogFormat:    envOrDefault("LOG_FORMAT", "json"),
		ScheduleCron: os.Getenv("SCHEDULE_CRON"),

		KafkaTopic: envOrDefault("KAFKA_TOPIC", "composite-summaries"),

		CopernicusUsername: os.Getenv("COPERNICUS_USERNAME"),
		CopernicusPassword: os.Getenv("COPERNICUS_PASSWORD"),
		EarthdataUsername:  os.Getenv("EARTHDATA_USERNAME"),
		EarthdataPassword:  os.Getenv("EARTHDATA_PASSWORD"),
		CDSAPIURL:          os.Getenv("CDSAPI_URL"),
		CDSAPIKey:          os.Getenv("CDSAPI_KEY"),
	}

	if cfg.ProductType == "" {
		cfg.ProductType = defaultProductType(cfg.Provider)
	}

	var err error
	if cfg.StartDate, cfg.EndDate, err = parseDateWindow(); err != nil {
		return nil, err
	}
	if cfg.Boundary, err = parseBoundary(envOrDefault("BOUNDARY", "119,123,21,26")); err != nil {
		return nil, fmt.Errorf("BOUNDARY: %w", err)
	}
	if gate := os.Getenv("REGION_GATE"); gate != "" {
		b, err := parseBoundary(gate)
		if err != nil {
			return nil, fmt.Errorf("REGION_GATE: %w", err)
		}
		cfg.RegionGate = &b
	}

	if cfg.QAThreshold, err = parseFloat("QA_THRESHOLD", 0.75); err != nil {
		return nil, err
	}
	if cfg.QAThreshold < 0 || cfg.QAThreshold > 1 {
		return nil, fmt.Errorf("%w: QA_THRESHOLD must be in [0, 1], got %g", domain.ErrInvalidConfiguration, cfg.QAThreshold)
	}
	if cfg.Resolution, err = parseResolution(); err != nil {
		return nil, err
	}
	if cfg.MaxDistanceDG, err = parseFloat("MAX_SEARCH_DISTANCE_DEG", 0.2); err != nil {
		return nil, err
	}
	if cfg.Neighbors, err = parseInt("NEIGHBORS", 12); err != nil {
		return nil, err
	}
	if cfg.Limit, err = parseInt("PRODUCT_LIMIT", 0); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrency, err = parseInt("MAX_CONCURRENCY", 5); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = parseInt("DOWNLOAD_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = parseInt("RETENTION_DAYS", 0); err != nil {
		return nil, err
	}
	if cfg.InitialBackoff, err = parseDuration("DOWNLOAD_BACKOFF", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxBackoff, err = parseDuration("DOWNLOAD_MAX_BACKOFF", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CatalogTimeout, err = parseDuration("CATALOG_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.DownloadTimeout, err = parseDuration("DOWNLOAD_TIMEOUT", 180*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.Period = domain.Period(envOrDefault("PERIOD", string(domain.PeriodDaily)))

	cfg.KafkaBrokers = splitNonEmpty(envOrDefault("KAFKA_BROKERS", ""), ",")
	cfg.KafkaEnabled = len(cfg.KafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		cfg.KafkaEnabled = v == "true"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "s5p":
		if c.CopernicusUsername == "" || c.CopernicusPassword == "" {
			return fmt.Errorf("%w: provider s5p requires COPERNICUS_USERNAME and COPERNICUS_PASSWORD", domain.ErrInvalidConfiguration)
		}
	case "modis":
		if c.EarthdataUsername == "" || c.EarthdataPassword == "" {
			return fmt.Errorf("%w: provider modis requires EARTHDATA_USERNAME and EARTHDATA_PASSWORD", domain.ErrInvalidConfiguration)
		}
	case "era5":
		if c.CDSAPIURL == "" || c.CDSAPIKey == "" {
			return fmt.Errorf("%w: provider era5 requires CDSAPI_URL and CDSAPI_KEY", domain.ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidConfiguration, c.Provider)
	}

	switch c.InterpMethod {
	case "rbf", "idw", "nearest":
	default:
		return fmt.Errorf("%w: unknown INTERP_METHOD %q", domain.ErrInvalidConfiguration, c.InterpMethod)
	}
	switch c.Period {
	case domain.PeriodDaily, domain.PeriodMonthly:
	default:
		return fmt.Errorf("%w: PERIOD must be %q or %q", domain.ErrInvalidConfiguration, domain.PeriodDaily, domain.PeriodMonthly)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: MAX_CONCURRENCY must be at least 1", domain.ErrInvalidConfiguration)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: DOWNLOAD_MAX_ATTEMPTS must be at least 1", domain.ErrInvalidConfiguration)
	}
	if c.MaxDistanceDG <= 0 {
		return fmt.Errorf("%w: MAX_SEARCH_DISTANCE_DEG must be positive", domain.ErrInvalidConfiguration)
	}
	if c.Neighbors < 1 {
		return fmt.Errorf("%w: NEIGHBORS must be at least 1", domain.ErrInvalidConfiguration)
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("%w: END_DATE %s precedes START_DATE %s", domain.ErrInvalidConfiguration,
			c.EndDate.Format("2006-01-02"), c.StartDate.Format("2006-01-02"))
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("%w: KAFKA_ENABLED is true but KAFKA_BROKERS is not set", domain.ErrInvalidConfiguration)
	}
	return nil
}

func defaultProductType(provider string) string {
	switch provider {
	case "modis":
		return "MOD04_L2"
	case "era5":
		return "boundary_layer_height"
	default:
		return "NO2"
	}
}

// parseDateWindow reads START_DATE/END_DATE (YYYY-MM-DD); the default
// window is the day before the current UTC day through that day's end.
func parseDateWindow() (time.Time, time.Time, error) {
	now := domain.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	start := today.AddDate(0, 0, -1)
	end := today
	if v := os.Getenv("START_DATE"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid START_DATE %q", domain.ErrInvalidConfiguration, v)
		}
		start = t
	}
	if v := os.Getenv("END_DATE"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid END_DATE %q", domain.ErrInvalidConfiguration, v)
		}
		end = t
	}
	return start, end, nil
}

// parseBoundary parses "min_lon,max_lon,min_lat,max_lat".
func parseBoundary(s string) (domain.Boundary, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.Boundary{}, fmt.Errorf("%w: expected 4 comma-separated values, got %q", domain.ErrInvalidBoundary, s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.Boundary{}, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidBoundary, p)
		}
		vals[i] = v
	}
	return domain.NewBoundary(vals[0], vals[1], vals[2], vals[3])
}

func parseResolution() (domain.Resolution, error) {
	x, err := parseFloat("GRID_RESOLUTION_X", 5.5)
	if err != nil {
		return domain.Resolution{}, err
	}
	y, err := parseFloat("GRID_RESOLUTION_Y", 3.5)
	if err != nil {
		return domain.Resolution{}, err
	}
	unit := domain.ResolutionUnit(strings.ToLower(envOrDefault("GRID_RESOLUTION_UNIT", "km")))
	if unit != domain.UnitKilometers && unit != domain.UnitDegrees {
		return domain.Resolution{}, fmt.Errorf("%w: GRID_RESOLUTION_UNIT must be \"km\" or \"deg\"", domain.ErrInvalidConfiguration)
	}
	if x <= 0 || y <= 0 {
		return domain.Resolution{}, fmt.Errorf("%w: grid resolution must be positive", domain.ErrInvalidConfiguration)
	}
	return domain.Resolution{X: x, Y: y, Unit: unit}, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", domain.ErrInvalidConfiguration, key, v)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", domain.ErrInvalidConfiguration, key, v)
	}
	return f, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive duration, got %q", domain.ErrInvalidConfiguration, key, v)
	}
	return d, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
