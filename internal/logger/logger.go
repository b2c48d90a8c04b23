// Package logger настраивает logrus для сервера и связывает его с логированием запросов chi.
package logger

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const componentKey = "component"

// Init устанавливает формат и уровень логирования стандартного логгера logrus.
func Init(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("неизвестный уровень логирования %q: %w", level, err)
	}
	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	logrus.SetFormatter(formatter)
	logrus.SetLevel(lvl)
	return nil
}

// Component возвращает логгер с полем component, например "PerevalRepo".
func Component(name string) *logrus.Entry {
	return logrus.WithField(componentKey, name)
}

// RequestLogger - middleware chi, пишущий строку о каждом запросе через logrus.
func RequestLogger() func(http.Handler) http.Handler {
	return middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logrus.StandardLogger(),
		NoColor: true,
	})
}
