package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HatiCode/lycsurv/cmd/lycsurv/config"
	"github.com/HatiCode/lycsurv/pkg/storage"
)

// newStore creates the configured model store. The returned func releases
// it and is never nil.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Store {
	case "redis":
		tlsCfg, err := cfg.TLS.ClientConfig()
		if err != nil {
			return nil, func() {}, fmt.Errorf("redis tls: %w", err)
		}
		rs, err := storage.NewRedisStore(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.StoreTTL,
			TLS:      tlsCfg,
		})
		if err != nil {
			return nil, func() {}, err
		}
		logger.Info("using redis model store", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.StoreTTL)
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}, nil

	default:
		logger.Debug("using in-memory model store")
		if cfg.StoreTTL <= 0 {
			return storage.NewMemoryStore(), func() {}, nil
		}
		ms := storage.NewMemoryStoreWithTTL(cfg.StoreTTL, 0)
		return ms, ms.Stop, nil
	}
}
