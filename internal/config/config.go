// config - источник загрузки конфигурации estate-web.
//
// Источники (по убыванию приоритета):
//  1. явный путь --config;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. только ENV (cleanenv).
//
// ENV всегда накладывается поверх YAML.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища сессии.
const (
	DriverBolt   = "bolt"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	Backend  BackendConfig `yaml:"backend"`
	Session  SessionConfig `yaml:"session"`
	Storage  StorageConfig `yaml:"storage"`
	Auth     AuthConfig    `yaml:"auth"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig — таймаут обработки входящего запроса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE" env-default:"15s"`
}

// HTTPConfig — HTTP-сервер клиента (страницы + /auth API).
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"50100"`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// BackendConfig — REST backend маркетплейса.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"         env:"BACKEND_BASE_URL"         env-default:"http://localhost:8080"`
	SignInPath     string        `yaml:"sign_in_path"     env:"BACKEND_SIGN_IN_PATH"     env-default:"/api/auth/sign-in"`
	RefreshPath    string        `yaml:"refresh_path"     env:"BACKEND_REFRESH_PATH"     env-default:"/api/auth/refresh-token"`
	AdminCheckPath string        `yaml:"admin_check_path" env:"BACKEND_ADMIN_CHECK_PATH" env-default:"/api/auth/admin-check"`
	Timeout        time.Duration `yaml:"timeout"          env:"BACKEND_TIMEOUT"          env-default:"10s"`
}

// SessionConfig — параметры жизненного цикла сессии.
//
// KeepTokensOnTransportError: сохранять ли токены, если refresh не дошёл до backend
// (сетевая ошибка). По умолчанию false: сессия считается невосстановимой и очищается.
// Флаг инвертирован, потому что cleanenv подставляет env-default поверх нулевого значения из YAML.
type SessionConfig struct {
	RefreshInterval            time.Duration `yaml:"refresh_interval"               env:"SESSION_REFRESH_INTERVAL"               env-default:"30m"`
	ExpiringWindow             time.Duration `yaml:"expiring_window"                env:"SESSION_EXPIRING_WINDOW"                env-default:"1h"`
	KeepTokensOnTransportError bool          `yaml:"keep_tokens_on_transport_error" env:"SESSION_KEEP_TOKENS_ON_TRANSPORT_ERROR"`
	AdminPrefix                string        `yaml:"admin_prefix"                   env:"SESSION_ADMIN_PREFIX"                   env-default:"/admin"`
	HomePath                   string        `yaml:"home_path"                      env:"SESSION_HOME_PATH"                      env-default:"/"`
}

// StorageConfig — где хранится сессия между перезапусками.
// При непустом Secret значения шифруются (sealed) поверх выбранного драйвера.
type StorageConfig struct {
	Driver      string `yaml:"driver"       env:"STORAGE_DRIVER"       env-default:"bolt"`
	BoltPath    string `yaml:"bolt_path"    env:"STORAGE_BOLT_PATH"    env-default:"./estate-session.db"`
	RedisURL    string `yaml:"redis_url"    env:"STORAGE_REDIS_URL"    env-default:"redis://localhost:6379/0"`
	RedisPrefix string `yaml:"redis_prefix" env:"STORAGE_REDIS_PREFIX" env-default:"estate:session:"`
	Secret      string `yaml:"secret"       env:"STORAGE_SECRET"`
}

// AuthConfig — при непустом JWTSecret срок действия читается только из
// токенов с корректной подписью HS256.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
}

// MustLoad — паника при ошибке загрузки.
func MustLoad(path string) *Config {
	cfg, err := Load(path)

	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return validated(&cfg)
	}

	// 1) --config
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) только ENV
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return validated(&cfg)
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate проверяет значения, которые нельзя выразить через env-default.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverBolt:
		if c.Storage.BoltPath == "" {
			errs = append(errs, errors.New("storage.bolt_path is required for bolt driver"))
		}
	case DriverRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url is required for redis driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Session.RefreshInterval <= 0 {
		errs = append(errs, errors.New("session.refresh_interval must be positive"))
	}
	if c.Session.ExpiringWindow <= 0 {
		errs = append(errs, errors.New("session.expiring_window must be positive"))
	}
	if !strings.HasPrefix(c.Session.AdminPrefix, "/") {
		errs = append(errs, errors.New("session.admin_prefix must start with '/'"))
	}
	if !strings.HasPrefix(c.Session.HomePath, "/") {
		errs = append(errs, errors.New("session.home_path must start with '/'"))
	}

	return errors.Join(errs...)
}
