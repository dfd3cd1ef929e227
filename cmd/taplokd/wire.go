package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taplok/taplok/internal/config"
	"github.com/taplok/taplok/internal/position"
	"github.com/taplok/taplok/internal/shellcache"
)

// loadConfig reads the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds a logger with the given prefix, teeing to a rotated
// log file when one is configured.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(out, prefix, log.LstdFlags)
}

// newPositionReader builds the configured position source, wrapped with
// the acquisition timeout and fix reuse window.
func newPositionReader(cfg *config.Config, logger *log.Logger) (position.Reader, error) {
	var src position.Reader
	switch cfg.PositionSource {
	case config.SourceGPSD:
		src = position.NewGPSD(cfg.GPSDAddr, logger)
	case config.SourceFixed:
		src = position.NewFixed(cfg.FixedLatitude, cfg.FixedLongitude, cfg.FixedAccuracy)
	default:
		return nil, fmt.Errorf("unknown position source %q", cfg.PositionSource)
	}
	return position.NewCached(src, cfg.PositionTimeout, cfg.PositionMaxAge), nil
}

// newShellManager builds the cache manager with the manifest loaded, or
// returns nil when no origin is configured (shell serving disabled).
func newShellManager(cfg *config.Config, logger *log.Logger) (*shellcache.Manager, error) {
	if cfg.OriginURL == "" {
		return nil, nil
	}

	m, err := shellcache.New(&shellcache.Config{
		OriginURL: cfg.OriginURL,
		CacheDir:  cfg.CacheDir,
		APIPrefix: cfg.APIPrefix,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.ManifestPath != "" {
		man, err := shellcache.LoadManifest(cfg.ManifestPath)
		if err != nil {
			logger.Printf("Warning: manifest not loaded, serving from origin only: %v", err)
		} else {
			m.SetManifest(man)
		}
	}

	return m, nil
}
