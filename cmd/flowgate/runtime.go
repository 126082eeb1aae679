package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"flowgate/internal/config"
	"flowgate/internal/logger"
	"flowgate/internal/storage"

	"gorm.io/gorm"
)

// stores 两个进程共用的存储句柄
type stores struct {
	main *gorm.DB
	ns   *storage.Namespaces
}

func (s *stores) Close() {
	if s.ns != nil {
		s.ns.Close()
	}
	storage.Close(s.main)
}

func loadConfig(path string) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	l := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writers:    cfg.Log.Writer,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	return cfg, l, nil
}

func openStores(cfg *config.Config, l logger.Logger) (*stores, error) {
	opts := storage.Options{Prefix: cfg.Sqlite.Prefix, Logger: l}
	db, err := storage.OpenMain(cfg.Sqlite.Dsn, opts)
	if err != nil {
		return nil, err
	}
	dir := cfg.Sqlite.ProjectsDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(cfg.Sqlite.Dsn), dir)
	}
	return &stores{main: db, ns: storage.NewNamespaces(dir, opts)}, nil
}

// signalContext SIGINT / SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
