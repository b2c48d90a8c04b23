package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// NewConnectorWithOpener позволяет подменить функцию открытия пула в тестах.
func NewConnectorWithOpener(
	driver, dsn string,
	open func(ctx context.Context, driver, dsn string) (*sqlx.DB, error),
) *Connector {
	return &Connector{driver: driver, dsn: dsn, open: open, now: time.Now}
}

// SetPingInterval задает, как часто Connector пингует пул.
func SetPingInterval(c *Connector, d time.Duration) {
	c.pingEvery = d
}

// SetNow подменяет источник времени репозитория.
func SetNow(repo PerevalRepository, now func() time.Time) {
	repo.(*sqlPerevalRepository).now = now
}
