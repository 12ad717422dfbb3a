package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/app"
)

const envFilesVar = "LESSONS_ENV_FILE"

// envFiles возвращает список .env файлов: LESSONS_ENV_FILE через запятую или ".env".
func envFiles(lookup func(string) (string, bool)) []string {
	raw, ok := lookup(envFilesVar)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{".env"}
	}
	var files []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			files = append(files, part)
		}
	}
	return files
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := app.LoadConfig(envFiles(os.LookupEnv)...)
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"publisher":    cfg.Publisher,
	}).Info("запускаем LessonService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("LessonService остановлен")
}
