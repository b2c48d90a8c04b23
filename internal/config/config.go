// Package config собирает настройки сервера из .env, окружения и значений по умолчанию.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/maynagashev/pereval/internal/repository"
	"github.com/maynagashev/pereval/internal/storage"
)

// Config хранит конфигурацию сервера и утилиты модерации.
type Config struct {
	Port     string `env:"SERVER_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	CertFile string `env:"TLS_CERT_FILE"`
	KeyFile  string `env:"TLS_KEY_FILE"`

	DBDriver    string `env:"DB_DRIVER,default=postgres"`
	DatabaseDSN string `env:"DATABASE_DSN"`
	SQLitePath  string `env:"SQLITE_PATH,default=pereval.db"`

	// Раздельные параметры PostgreSQL, используются, если DATABASE_DSN не задан.
	DBHost  string `env:"FSTR_DB_HOST,default=localhost"`
	DBPort  string `env:"FSTR_DB_PORT,default=5432"`
	DBName  string `env:"FSTR_DB_NAME,default=pereval"`
	DBLogin string `env:"FSTR_DB_LOGIN,default=postgres"`
	DBPass  string `env:"FSTR_DB_PASS"`

	MinioEndpoint string `env:"MINIO_ENDPOINT"`
	MinioUser     string `env:"MINIO_USER"`
	MinioPassword string `env:"MINIO_PASSWORD"`
	MinioBucket   string `env:"MINIO_BUCKET,default=pereval-images"`
	MinioUseSSL   bool   `env:"MINIO_USE_SSL,default=false"`
}

// Load читает .env (если файл есть) и переменные окружения.
// Уже заданные переменные окружения не перекрываются значениями из .env.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("ошибка разбора переменных окружения: %w", err)
	}
	return cfg, nil
}

// DSN возвращает строку подключения для выбранного драйвера.
func (c *Config) DSN() string {
	if c.DBDriver == repository.DriverSQLite {
		return c.SQLitePath
	}
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBLogin, c.DBPass),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// TLSEnabled сообщает, заданы ли оба файла для HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// ArchiveEnabled сообщает, настроен ли архив изображений в MinIO.
func (c *Config) ArchiveEnabled() bool {
	return c.MinioEndpoint != ""
}

// Minio возвращает параметры подключения к архиву изображений.
func (c *Config) Minio() storage.MinioConfig {
	return storage.MinioConfig{
		Endpoint:        c.MinioEndpoint,
		AccessKeyID:     c.MinioUser,
		SecretAccessKey: c.MinioPassword,
		UseSSL:          c.MinioUseSSL,
		BucketName:      c.MinioBucket,
	}
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if c.DBDriver != repository.DriverPostgres && c.DBDriver != repository.DriverSQLite {
		return fmt.Errorf("%w: %q", repository.ErrUnsupportedDriver, c.DBDriver)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("для HTTPS нужны оба параметра: TLS_CERT_FILE и TLS_KEY_FILE")
	}
	if c.Port == "" {
		return errors.New("не указан порт сервера")
	}
	return nil
}
