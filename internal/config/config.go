package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Security SecurityConfig
	Engine   EngineConfig
	Logging  LoggingConfig
	Venues   []VenueConfig // из файла VENUES_FILE
}

// ServerConfig - настройки HTTP сервера отчетов
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД журнала сделок
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// RedisConfig - кеш снимков и heartbeat. Пустой Addr отключает кеш.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration // TTL блокировки единственного движка
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// AdminTokenHash - bcrypt хеш токена для изменения риск-параметров.
	// Пустое значение закрывает запись параметров через API.
	AdminTokenHash string
	AllowedOrigins []string
}

// EngineConfig - настройки цикла поиска и исполнения
type EngineConfig struct {
	DryRun     bool
	Symbols    []string
	VenuesFile string

	CycleInterval   time.Duration // период цикла
	CycleBudget     time.Duration // бюджет времени на один цикл
	FetchTimeout    time.Duration // таймаут запроса к одной бирже
	FreshnessWindow time.Duration // снимок старше считается устаревшим

	SlippagePercent float64 // оценка проскальзывания, %
	MinPositionUSD  float64 // минимальный размер сделки

	// Вторая нога
	SellLegMaxAttempts int
	SellLegBackoff     time.Duration
	LegTimeout         time.Duration

	// Выключатели
	APIErrorLimit  int
	APIErrorWindow time.Duration
	NoDataTimeout  time.Duration

	VolatilityWindow   int
	SymbolDisableHours int // временная приостановка после повторных сбоев
	ShadowSizing       string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Режимы размера теневых сделок
const (
	ShadowSizingFixed = "fixed"
	ShadowSizingLive  = "live"
)

// Load загружает .env (если есть), переменные окружения и файл бирж
func Load() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", time.Minute),
		},
		Security: SecurityConfig{
			AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		},
		Engine: EngineConfig{
			DryRun:     getEnvAsBool("DRY_RUN", true),
			Symbols:    getEnvAsList("SYMBOLS", []string{"BTCUSDT", "ETHUSDT"}),
			VenuesFile: getEnv("VENUES_FILE", "configs/venues.toml"),

			CycleInterval:   getEnvAsDuration("CYCLE_INTERVAL", 20*time.Second),
			CycleBudget:     getEnvAsDuration("CYCLE_BUDGET", 15*time.Second),
			FetchTimeout:    getEnvAsDuration("FETCH_TIMEOUT", 5*time.Second),
			FreshnessWindow: getEnvAsDuration("FRESHNESS_WINDOW", 10*time.Second),

			SlippagePercent: getEnvAsFloat("ESTIMATED_SLIPPAGE_PERCENT", 0.15),
			MinPositionUSD:  getEnvAsFloat("MIN_POSITION_USD", 10),

			SellLegMaxAttempts: getEnvAsInt("SELL_LEG_MAX_ATTEMPTS", 4),
			SellLegBackoff:     getEnvAsDuration("SELL_LEG_BACKOFF", 500*time.Millisecond),
			LegTimeout:         getEnvAsDuration("LEG_TIMEOUT", 10*time.Second),

			APIErrorLimit:  getEnvAsInt("API_ERROR_LIMIT", 20),
			APIErrorWindow: getEnvAsDuration("API_ERROR_WINDOW", 5*time.Minute),
			NoDataTimeout:  getEnvAsDuration("NO_DATA_TIMEOUT", 120*time.Second),

			VolatilityWindow:   getEnvAsInt("VOLATILITY_WINDOW", 10),
			SymbolDisableHours: getEnvAsInt("SYMBOL_DISABLE_HOURS", 6),
			ShadowSizing:       strings.ToLower(getEnv("SHADOW_SIZING", ShadowSizingFixed)),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	for i, symbol := range cfg.Engine.Symbols {
		cfg.Engine.Symbols[i] = strings.ToUpper(symbol)
	}

	venues, err := LoadVenues(cfg.Engine.VenuesFile)
	if err != nil {
		return nil, err
	}
	cfg.Venues = venues

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase загружает .env и только настройки БД.
// Нужен утилитам, которым не нужен файл бирж.
func LoadDatabase() (DatabaseConfig, error) {
	_ = godotenv.Load()

	db := databaseFromEnv()
	if db.Port < 1 || db.Port > 65535 {
		return db, fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", db.Port)
	}
	return db, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "postgres"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		Name:     getEnv("DB_NAME", "spreadarb"),
		User:     getEnv("DB_USER", "user"),
		Password: getEnv("DB_PASSWORD", "password"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}
}

// Validate проверяет конфигурацию. Ошибки здесь фатальны при старте.
func (c *Config) Validate() error {
	if err := c.validateRanges(); err != nil {
		return err
	}
	return c.validateVenues()
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	e := c.Engine
	if len(e.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must list at least one symbol")
	}

	if e.CycleInterval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL must be positive, got %v", e.CycleInterval)
	}

	if e.CycleBudget <= 0 || e.CycleBudget > e.CycleInterval {
		return fmt.Errorf("CYCLE_BUDGET must be positive and not exceed CYCLE_INTERVAL, got %v", e.CycleBudget)
	}

	if e.FetchTimeout <= 0 || e.FetchTimeout > e.CycleBudget {
		return fmt.Errorf("FETCH_TIMEOUT must be positive and not exceed CYCLE_BUDGET, got %v", e.FetchTimeout)
	}

	if e.FreshnessWindow <= 0 {
		return fmt.Errorf("FRESHNESS_WINDOW must be positive, got %v", e.FreshnessWindow)
	}

	if e.SlippagePercent < 0 {
		return fmt.Errorf("ESTIMATED_SLIPPAGE_PERCENT cannot be negative, got %v", e.SlippagePercent)
	}

	if e.SellLegMaxAttempts < 1 || e.SellLegMaxAttempts > 10 {
		return fmt.Errorf("SELL_LEG_MAX_ATTEMPTS must be between 1 and 10, got %d", e.SellLegMaxAttempts)
	}

	if e.LegTimeout <= 0 {
		return fmt.Errorf("LEG_TIMEOUT must be positive, got %v", e.LegTimeout)
	}

	if e.APIErrorLimit < 1 {
		return fmt.Errorf("API_ERROR_LIMIT must be at least 1, got %d", e.APIErrorLimit)
	}

	if e.APIErrorWindow <= 0 || e.NoDataTimeout <= 0 {
		return fmt.Errorf("API_ERROR_WINDOW and NO_DATA_TIMEOUT must be positive")
	}

	if e.VolatilityWindow < 2 {
		return fmt.Errorf("VOLATILITY_WINDOW must be at least 2, got %d", e.VolatilityWindow)
	}

	if e.ShadowSizing != ShadowSizingFixed && e.ShadowSizing != ShadowSizingLive {
		return fmt.Errorf("SHADOW_SIZING must be %q or %q, got %q", ShadowSizingFixed, ShadowSizingLive, e.ShadowSizing)
	}

	return nil
}

// validateVenues требует минимум две биржи и ключи для реальной торговли
func (c *Config) validateVenues() error {
	if len(c.Venues) < 2 {
		return fmt.Errorf("at least two venues are required, got %d", len(c.Venues))
	}

	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue name cannot be empty")
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate venue %q", v.Name)
		}
		seen[v.Name] = true

		if v.TakerFee < 0 || v.MakerFee < 0 {
			return fmt.Errorf("venue %s: fees cannot be negative", v.Name)
		}

		if !c.Engine.DryRun && v.Kind != VenueKindPaper && (v.APIKey == "" || v.APISecret == "") {
			return fmt.Errorf("venue %s: credentials are required when DRY_RUN=false (set %s and %s)",
				v.Name, v.keyEnv(), v.secretEnv())
		}
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
