package repository

import (
	"context"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Драйвер PostgreSQL, импортируем для регистрации
	_ "modernc.org/sqlite" // Драйвер SQLite без cgo

	"github.com/maynagashev/pereval/internal/logger"
)

// Имена поддерживаемых драйверов.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	maxOpenConns    = 25              // Максимальное количество открытых соединений
	maxIdleConns    = 25              // Максимальное количество простаивающих соединений
	connMaxLifetime = 5 * time.Minute // Максимальное время жизни соединения
	connMaxIdleTime = 5 * time.Minute // Максимальное время простоя соединения
	pingInterval    = 5 * time.Second // Как часто Connector проверяет живость пула
)

//go:embed schema/*.sql
var schemaFS embed.FS

var dbLog = logger.Component("DB")

// NewPostgresDB создает и возвращает новое подключение к PostgreSQL.
func NewPostgresDB(dsn string) (*sqlx.DB, error) {
	return Open(context.Background(), DriverPostgres, dsn)
}

// NewSQLiteDB открывает (или создает) файл базы SQLite.
func NewSQLiteDB(path string) (*sqlx.DB, error) {
	return Open(context.Background(), DriverSQLite, path)
}

// Open открывает пул соединений указанного драйвера и проверяет его пингом.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if _, err := dialectFor(driver); err != nil {
		return nil, err
	}
	dbLog.Infof("Подключение к БД (%s)...", driver)

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Проверка соединения
	if err = db.PingContext(ctx); err != nil {
		// Закрываем соединение в случае ошибки пинга
		if closeErr := db.Close(); closeErr != nil {
			dbLog.Warnf("Ошибка закрытия соединения с БД после неудачного пинга: %v", closeErr)
		}
		return nil, fmt.Errorf("ошибка проверки соединения с БД (ping): %w", err)
	}

	if driver == DriverSQLite {
		// SQLite допускает одного писателя: сериализуем доступ через одно соединение.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
	}
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	dbLog.Infof("Подключение к БД (%s) успешно установлено.", driver)
	return db, nil
}

// EnsureSchema создает таблицу pereval_added, если её ещё нет.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return err
	}
	ddl, err := schemaFS.ReadFile("schema/" + d.schemaFile)
	if err != nil {
		return fmt.Errorf("ошибка чтения схемы %s: %w", d.schemaFile, err)
	}
	if _, err = db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("ошибка применения схемы БД: %w", err)
	}
	dbLog.Infof("Схема БД (%s) применена.", d.name)
	return nil
}

// Connector лениво открывает пул соединений и переиспользует его, пока он жив.
// Повторные вызовы Connect безопасны и не создают лишних подключений.
type Connector struct {
	driver    string
	dsn       string
	open      func(ctx context.Context, driver, dsn string) (*sqlx.DB, error)
	pingEvery time.Duration
	now       func() time.Time

	mu       sync.Mutex
	db       *sqlx.DB
	pingedAt time.Time
}

// NewConnector создает Connector для указанного драйвера и строки подключения.
func NewConnector(driver, dsn string) *Connector {
	return &Connector{driver: driver, dsn: dsn, open: Open, pingEvery: pingInterval, now: time.Now}
}

// Connect возвращает живой пул. Пул проверяется пингом не чаще pingInterval;
// если он не отвечает, то закрывается и открывается новый.
func (c *Connector) Connect(ctx context.Context) (*sqlx.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		if c.now().Sub(c.pingedAt) < c.pingEvery {
			return c.db, nil
		}
		if err := c.db.PingContext(ctx); err == nil {
			c.pingedAt = c.now()
			return c.db, nil
		}
		dbLog.Warn("Соединение с БД потеряно, переподключаемся...")
		if err := c.db.Close(); err != nil {
			dbLog.Warnf("Ошибка закрытия старого пула: %v", err)
		}
		c.db = nil
	}

	db, err := c.open(ctx, c.driver, c.dsn)
	if err != nil {
		return nil, err
	}
	c.db = db
	c.pingedAt = c.now()
	return db, nil
}

// Close закрывает пул, если он был открыт.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
