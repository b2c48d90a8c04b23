// Команда moderate меняет статус модерации записи о перевале.
//
//	moderate -id 12 -status pending
//
// Подключение к БД настраивается так же, как у сервера (.env и переменные окружения).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maynagashev/pereval/internal/config"
	"github.com/maynagashev/pereval/internal/logger"
	"github.com/maynagashev/pereval/internal/repository"
	"github.com/maynagashev/pereval/models"
)

const commandTimeout = 30 * time.Second

type options struct {
	id     int64
	status models.Status
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logrus.Errorf("Ошибка модерации: %v", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err = logger.Init(cfg.LogLevel); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	connector := repository.NewConnector(cfg.DBDriver, cfg.DSN())
	defer func() { _ = connector.Close() }()
	db, err := connector.Connect(ctx)
	if err != nil {
		return err
	}
	return moderate(ctx, repository.NewPerevalRepository(db), opts, out)
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("moderate", flag.ContinueOnError)
	id := fs.Int64("id", 0, "ID записи о перевале")
	status := fs.String("status", "", "Новый статус: new, pending, accepted или rejected")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *id <= 0 {
		return options{}, errors.New("нужно указать положительный -id")
	}
	st, err := models.ParseStatus(*status)
	if err != nil {
		return options{}, err
	}
	return options{id: *id, status: st}, nil
}

func moderate(ctx context.Context, repo repository.PerevalRepository, opts options, out io.Writer) error {
	if err := repo.SetPerevalStatus(ctx, opts.id, opts.status); err != nil {
		if errors.Is(err, repository.ErrPerevalNotFound) {
			return fmt.Errorf("перевал с ID %d не найден", opts.id)
		}
		return err
	}
	_, err := fmt.Fprintf(out, "Перевал %d: статус '%s'\n", opts.id, opts.status)
	return err
}
