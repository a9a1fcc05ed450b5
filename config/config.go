package config

import (
	"encoding/json"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
)

// AppConfig holds environment driven configuration values.
// Secrets have no defaults in code and must come from .env, config.json or the environment.
type AppConfig struct {
	AppPort            string
	AppEnv             string
	JWTSecret          string
	AllowedOrigins     []string
	RateLimitPerMinute int
	BodyLimitBytes     int64
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database connector
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis, optional; enables the cross-instance sweep lock
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Temp directory shared by upload buffering and the sweeper
	TempDir              string
	SweepSchedule        string
	SweepDirPolicy       string
	SweepMaxEntries      int
	SweepMinAge          time.Duration
	SweepDistributedLock bool
	UploadMaxBytes       int64
	UploadMaxFiles       int
}

// IsProduction reports whether APP_ENV selects production behavior.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

var cfg AppConfig
var loaded bool

// unsetInt marks settings where an explicit 0 is meaningful and must not be defaulted.
const unsetInt = math.MinInt

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}
	cfg = build(".env", filepath.Join("config", "config.json"))
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Precedence: .env (fills unset env vars) -> config.json -> defaults -> environment overrides.
func build(envFile, jsonFile string) AppConfig {
	c := AppConfig{SweepMaxEntries: unsetInt}
	// a missing .env is normal outside local development
	_ = godotenv.Load(envFile)

	if err := loadJSONConfig(jsonFile, &c); err != nil {
		log.Printf("ignoring %s: %v", jsonFile, err)
	}
	applyDefaults(&c)
	applyEnvOverrides(&c)
	c.TempDir = resolveDir(c.TempDir)
	return c
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads grouped sections into out if the file is present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			}
		}
		return 0
	}
	getIntOK := func(m map[string]any, key string) (int, bool) {
		if v, ok := m[key].(float64); ok {
			return int(v), true
		}
		return 0, false
	}
	getBool := func(m map[string]any, key string) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return false
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if arr, ok := m[key].([]any); ok {
			res := make([]string, 0, len(arr))
			for _, it := range arr {
				if s, ok := it.(string); ok {
					res = append(res, s)
				}
			}
			return res
		}
		return nil
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.AppEnv = getString(app, "AppEnv")
		out.JWTSecret = getString(app, "JWTSecret")
		out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
		out.BodyLimitBytes = int64(getInt(app, "BodyLimitBytes"))
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		out.RedisPort = getInt(rds, "RedisPort")
		out.RedisDB = getInt(rds, "RedisDB")
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		out.LogLevel = getString(lg, "Level")
		out.LogPath = getString(lg, "Path")
		out.GinMode = getString(lg, "GinMode")
		out.GinPath = getString(lg, "GinPath")
		out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
		out.LogMaxBackups = getInt(lg, "MaxBackups")
		out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
		out.LogCompress = getBool(lg, "Compress")
	}

	if sw, ok := raw["sweeper"].(map[string]any); ok {
		out.TempDir = getString(sw, "TempDir")
		out.SweepSchedule = getString(sw, "Schedule")
		out.SweepDirPolicy = getString(sw, "DirPolicy")
		if n, ok := getIntOK(sw, "MaxEntries"); ok {
			out.SweepMaxEntries = n
		}
		if v := getString(sw, "MinAge"); v != "" {
			out.SweepMinAge = mustParseDuration(v)
		}
		out.SweepDistributedLock = getBool(sw, "DistributedLock")
	}

	if up, ok := raw["upload"].(map[string]any); ok {
		out.UploadMaxBytes = int64(getInt(up, "MaxBytes"))
		out.UploadMaxFiles = getInt(up, "MaxFiles")
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.AppEnv == "" {
		c.AppEnv = "development"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
	if c.BodyLimitBytes == 0 {
		c.BodyLimitBytes = 1 << 20
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.TempDir == "" {
		c.TempDir = "tmp"
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "0 * * * *" // top of every hour
	}
	if c.SweepDirPolicy == "" {
		c.SweepDirPolicy = "remove"
	}
	// 0 means unlimited, from any source
	if c.SweepMaxEntries == unsetInt {
		c.SweepMaxEntries = 10000
	}
	if c.UploadMaxBytes == 0 {
		c.UploadMaxBytes = 10 << 20
	}
	if c.UploadMaxFiles == 0 {
		c.UploadMaxFiles = 10
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", getEnv("PORT", "")); v != "" {
		c.AppPort = v
	}
	if v := getEnv("APP_ENV", getEnv("NODE_ENV", "")); v != "" {
		c.AppEnv = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("BODY_LIMIT_BYTES", ""); v != "" {
		c.BodyLimitBytes = int64(mustParseInt(v))
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_LOG_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("TEMP_DIR", ""); v != "" {
		c.TempDir = v
	}
	if v := getEnv("SWEEP_SCHEDULE", ""); v != "" {
		c.SweepSchedule = v
	}
	if v := getEnv("SWEEP_DIR_POLICY", ""); v != "" {
		c.SweepDirPolicy = v
	}
	if v := getEnv("SWEEP_MAX_ENTRIES", ""); v != "" {
		c.SweepMaxEntries = mustParseInt(v)
	}
	if v := getEnv("SWEEP_MIN_AGE", ""); v != "" {
		c.SweepMinAge = mustParseDuration(v)
	}
	if v := getEnv("SWEEP_DISTRIBUTED_LOCK", ""); v != "" {
		c.SweepDistributedLock = v == "true"
	}
	if v := getEnv("UPLOAD_MAX_BYTES", ""); v != "" {
		c.UploadMaxBytes = int64(mustParseInt(v))
	}
	if v := getEnv("UPLOAD_MAX_FILES", ""); v != "" {
		c.UploadMaxFiles = mustParseInt(v)
	}
}

// resolveDir expands a leading ~ and anchors relative paths at the working directory.
func resolveDir(dir string) string {
	if expanded, err := homedir.Expand(dir); err == nil {
		dir = expanded
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func mustParseDuration(val string) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Fatalf("invalid duration value %s: %v", val, err)
	}
	return d
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
