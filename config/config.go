package config

import (
	"fmt"
	"github.com/spf13/viper"
	"strings"
	"time"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server struct {
		Port int
	}
	DB struct {
		Host          string
		Port          int
		User          string
		Password      string
		DBName        string
		MigrationsDir string
	}
	JWT struct {
		SecretKey string
		ExpiresIn int // в часах
	}
	SMTP struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}
	Ledger struct {
		WorkflowsFile string
		Timezone      string
	}
	RateLimit struct {
		Requests int
		Window   time.Duration
	}
	Scheduler struct {
		Enabled         bool
		StatusInterval  time.Duration
		LateFeeInterval time.Duration
	}
	Dispatcher struct {
		MaxAttempts     int
		Backoff         time.Duration
		ShutdownTimeout time.Duration
	}
	Log struct {
		Level       string
		OutputPaths []string
	}

	v *viper.Viper
}

// NewConfig создает новый экземпляр конфигурации.
// Значения берутся из файла CONFIG_FILE (если задан) и переменных окружения,
// например DB_HOST или LEDGER_GRACE_PERIOD_DAYS.
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %v", err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	// Настройки сервера
	v.SetDefault("server.port", 8080)

	// Настройки базы данных
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "loan_db")
	v.SetDefault("db.migrations_dir", "migrations")

	// Настройки JWT
	v.SetDefault("jwt.secret_key", "your-secret-key-here")
	v.SetDefault("jwt.expires_in", 24)

	// Настройки SMTP
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "your-email@gmail.com")
	v.SetDefault("smtp.password", "your-app-password")
	v.SetDefault("smtp.from", "your-email@gmail.com")

	// Настройки журнала платежей
	v.SetDefault("ledger.workflows_file", "")
	v.SetDefault("ledger.grace_period_days", 5)
	v.SetDefault("ledger.late_fee_cap_percent", 30)
	v.SetDefault("ledger.late_fee_percent", 5)
	v.SetDefault("ledger.late_fee_dpd_schedule", []int{1, 30, 60, 90})
	v.SetDefault("ledger.waiver_validity_max_days", 39)
	v.SetDefault("ledger.timezone", "UTC")

	// Ограничение частоты запросов на пользователя
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", time.Minute)

	// Планировщик и диспетчер
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.status_interval", time.Hour)
	v.SetDefault("scheduler.late_fee_interval", 8*time.Hour)
	v.SetDefault("dispatcher.max_attempts", 5)
	v.SetDefault("dispatcher.backoff", 2*time.Second)
	v.SetDefault("dispatcher.shutdown_timeout", 20*time.Second)

	// Логирование
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_paths", []string{"stdout"})

	v.SetDefault("config_file", "")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}

	cfg.Server.Port = v.GetInt("server.port")
	if cfg.Server.Port <= 0 {
		return nil, fmt.Errorf("неверный формат порта сервера: %v", v.Get("server.port"))
	}

	cfg.DB.Host = v.GetString("db.host")
	cfg.DB.Port = v.GetInt("db.port")
	if cfg.DB.Port <= 0 {
		return nil, fmt.Errorf("неверный формат порта базы данных: %v", v.Get("db.port"))
	}
	cfg.DB.User = v.GetString("db.user")
	cfg.DB.Password = v.GetString("db.password")
	cfg.DB.DBName = v.GetString("db.name")
	cfg.DB.MigrationsDir = v.GetString("db.migrations_dir")

	cfg.JWT.SecretKey = v.GetString("jwt.secret_key")
	cfg.JWT.ExpiresIn = v.GetInt("jwt.expires_in")
	if cfg.JWT.ExpiresIn <= 0 {
		return nil, fmt.Errorf("неверный формат времени жизни JWT: %v", v.Get("jwt.expires_in"))
	}

	cfg.SMTP.Host = v.GetString("smtp.host")
	cfg.SMTP.Port = v.GetInt("smtp.port")
	cfg.SMTP.Username = v.GetString("smtp.username")
	cfg.SMTP.Password = v.GetString("smtp.password")
	cfg.SMTP.From = v.GetString("smtp.from")

	cfg.Ledger.WorkflowsFile = v.GetString("ledger.workflows_file")
	cfg.Ledger.Timezone = v.GetString("ledger.timezone")
	if _, err := time.LoadLocation(cfg.Ledger.Timezone); err != nil {
		return nil, fmt.Errorf("неизвестный часовой пояс журнала %q: %v", cfg.Ledger.Timezone, err)
	}

	cfg.RateLimit.Requests = v.GetInt("rate_limit.requests")
	cfg.RateLimit.Window = v.GetDuration("rate_limit.window")
	if cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("неверные параметры ограничения запросов: %v за %v", v.Get("rate_limit.requests"), v.Get("rate_limit.window"))
	}

	cfg.Scheduler.Enabled = v.GetBool("scheduler.enabled")
	cfg.Scheduler.StatusInterval = v.GetDuration("scheduler.status_interval")
	cfg.Scheduler.LateFeeInterval = v.GetDuration("scheduler.late_fee_interval")

	cfg.Dispatcher.MaxAttempts = v.GetInt("dispatcher.max_attempts")
	cfg.Dispatcher.Backoff = v.GetDuration("dispatcher.backoff")
	cfg.Dispatcher.ShutdownTimeout = v.GetDuration("dispatcher.shutdown_timeout")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.OutputPaths = v.GetStringSlice("log.output_paths")

	return cfg, nil
}

// FeatureFlags возвращает живое представление настроек журнала
func (c *Config) FeatureFlags() *FeatureFlags {
	return NewFeatureFlags(c.v)
}
