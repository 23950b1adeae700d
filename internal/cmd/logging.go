package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/joeycumines/go-loopbridge/internal/config"
	"github.com/joeycumines/ilogrus"
	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
	"github.com/joeycumines/stumpy"
	"github.com/sirupsen/logrus"
)

// newLogger builds the logger selected by cfg, writing to w.
func newLogger(cfg config.LogConfig, w io.Writer) (*logiface.Logger[logiface.Event], error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	switch cfg.Format {
	case "stumpy":
		return stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(w)),
			stumpy.L.WithLevel(level),
		).Logger(), nil

	case "text":
		l := logrus.New()
		l.Out = w
		l.Level = logrus.TraceLevel
		l.Formatter = &logrus.TextFormatter{DisableColors: true}
		return ilogrus.L.New(
			ilogrus.L.WithLogrus(l),
			ilogrus.L.WithLevel(level),
		).Logger(), nil

	case "slog":
		h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
		return logiface.New[*islog.Event](
			islog.NewLogger(h, islog.WithLevel(level)),
		).Logger(), nil

	default:
		return nil, fmt.Errorf("cmd: unknown log format %q", cfg.Format)
	}
}
