package main

import (
	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/config"
	"github.com/septivank/water-meter-relay/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}
