package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации движка автоматизации и консоли.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Console   ServerConfig     `mapstructure:"console"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Engine    EngineConfig     `mapstructure:"engine"`
	Policy    PolicyConfig     `mapstructure:"policy"`
	Audit     AuditConfig      `mapstructure:"audit"`
	Logger    LoggerConfig     `mapstructure:"logger"`
	Schedules []ScheduleConfig `mapstructure:"schedules"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub, дедупликация, halt).
// Пустой Addr — режим без Redis: сигналы работают только внутри процесса.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA ключу внешнего слоя аутентификации.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// EngineConfig — хранилище, дедупликация и лимиты триггеров.
type EngineConfig struct {
	Storage        string        `mapstructure:"storage"` // memory, postgres
	Dedup          string        `mapstructure:"dedup"`   // memory, redis, postgres
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`
	RateLimit      float64       `mapstructure:"rate_limit"` // триггеров в секунду на тенанта
	RateBurst      int           `mapstructure:"rate_burst"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PolicyConfig — кэш настроек и предохранитель перед хранилищем.
type PolicyConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// AuditConfig — параметры асинхронного писателя журнала.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	WriteAttempts uint          `mapstructure:"write_attempts"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// ScheduleConfig — плановый триггер. Тенант задается здесь, а не токеном.
type ScheduleConfig struct {
	Name      string         `mapstructure:"name"`
	Cron      string         `mapstructure:"cron"`
	TenantID  string         `mapstructure:"tenant_id"`
	EventType string         `mapstructure:"event_type"`
	IntentKey string         `mapstructure:"intent_key"`
	Params    map[string]any `mapstructure:"params"`
	Timeout   time.Duration  `mapstructure:"timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Engine.Storage {
	case "memory", "postgres":
	default:
		return fmt.Errorf("config: engine.storage must be memory|postgres, got %q", c.Engine.Storage)
	}
	switch c.Engine.Dedup {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("config: engine.dedup=redis requires redis.addr")
		}
	case "postgres":
		if c.Engine.Storage != "postgres" {
			return errors.New("config: engine.dedup=postgres requires engine.storage=postgres")
		}
	default:
		return fmt.Errorf("config: engine.dedup must be memory|redis|postgres, got %q", c.Engine.Dedup)
	}
	if c.Engine.Storage == "postgres" && c.Database.URL == "" {
		return errors.New("config: engine.storage=postgres requires database.url")
	}
	for i, s := range c.Schedules {
		if s.Cron == "" || s.TenantID == "" || s.IntentKey == "" || s.EventType == "" {
			return fmt.Errorf("config: schedules[%d] (%s) needs cron, tenant_id, event_type and intent_key", i, s.Name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("console.port", 8081)
	v.SetDefault("console.read_timeout", 5*time.Second)
	v.SetDefault("console.write_timeout", 30*time.Second)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate", true)
	v.SetDefault("engine.storage", "memory")
	v.SetDefault("engine.dedup", "memory")
	v.SetDefault("engine.dedup_ttl", 24*time.Hour)
	v.SetDefault("engine.rate_limit", 20.0)
	v.SetDefault("engine.rate_burst", 40)
	v.SetDefault("engine.request_timeout", 30*time.Second)
	v.SetDefault("policy.cache_ttl", 30*time.Second)
	v.SetDefault("policy.breaker_failures", 3)
	v.SetDefault("policy.breaker_timeout", 10*time.Second)
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)
	v.SetDefault("audit.write_attempts", 3)
	v.SetDefault("audit.write_timeout", 5*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — ключ из ENV (PEM) или из файла по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
