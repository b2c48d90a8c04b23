package main

import (
	"flag"
	"fmt"

	"github.com/maynagashev/pereval/internal/config"
)

// parseFlags загружает конфигурацию из .env и окружения, затем применяет флаги
// командной строки: заданный флаг важнее переменной окружения.
func parseFlags(args []string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "Порт HTTP-сервера (env: SERVER_PORT)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Уровень логирования (env: LOG_LEVEL)")
	fs.StringVar(&cfg.CertFile, "cert-file", cfg.CertFile, "Путь к файлу TLS-сертификата (env: TLS_CERT_FILE)")
	fs.StringVar(&cfg.KeyFile, "key-file", cfg.KeyFile, "Путь к файлу TLS-ключа (env: TLS_KEY_FILE)")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Драйвер БД: postgres или sqlite (env: DB_DRIVER)")
	fs.StringVar(&cfg.DatabaseDSN, "database-dsn", cfg.DatabaseDSN,
		"Строка подключения к PostgreSQL (env: DATABASE_DSN)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "Путь к файлу SQLite (env: SQLITE_PATH)")
	fs.StringVar(&cfg.MinioEndpoint, "minio-endpoint", cfg.MinioEndpoint,
		"Адрес MinIO для архива изображений, пусто - архив выключен (env: MINIO_ENDPOINT)")

	if err = fs.Parse(args); err != nil {
		return nil, fmt.Errorf("ошибка разбора флагов: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
