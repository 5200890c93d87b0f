// Command curveswap runs the bonding-curve exchange. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/curveswap/internal/app"
	"github.com/alanyoungcy/curveswap/internal/config"
	"github.com/alanyoungcy/curveswap/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptOut := flag.String("encrypt-key", "",
		"encrypt the hex key in CURVESWAP_EXCHANGE_ADMIN_KEY with CURVESWAP_EXCHANGE_ADMIN_KEY_PASSWORD, write the key file to this path and exit")
	flag.Parse()

	if *encryptOut != "" {
		if err := encryptKey(*encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("curveswap starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("active configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("curveswap stopped")
}

// newLogger returns a JSON logger at the named level, defaulting to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func encryptKey(path string) error {
	key := os.Getenv("CURVESWAP_EXCHANGE_ADMIN_KEY")
	password := os.Getenv("CURVESWAP_EXCHANGE_ADMIN_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("CURVESWAP_EXCHANGE_ADMIN_KEY and CURVESWAP_EXCHANGE_ADMIN_KEY_PASSWORD must be set")
	}
	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
