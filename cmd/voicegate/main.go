// Command voicegate is the entrypoint: load configuration, build the
// logger, wire the voice engine and optional SSRC registry, and run the UDP
// transport until interrupted.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voicegate/internal/config"
	"github.com/rapidaai/voicegate/internal/logging"
	"github.com/rapidaai/voicegate/internal/opusdec"
	"github.com/rapidaai/voicegate/internal/registry"
	"github.com/rapidaai/voicegate/internal/transport"
	"github.com/rapidaai/voicegate/internal/voice"
	"github.com/rapidaai/voicegate/internal/voicecrypto"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.Parse(v)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	logger, err := logging.NewApplicationLogger(logging.Config{Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	logger = logger.With("service", cfg.ServiceName, "version", cfg.Version)
	logger.Infow("starting voicegate", "listen_host", cfg.ListenHost, "listen_port", cfg.ListenPort)

	box, err := buildBox(cfg)
	if err != nil {
		return fmt.Errorf("build crypto box: %w", err)
	}
	if cfg.VoiceSecretKey == "" {
		logger.Warnw("voice_secret_key is empty, decryption will fail on any real packet")
	}

	// reg stays nil (and Router skips every Claim/Release call) unless a
	// Redis host is configured.
	var reg voice.SSRCRegistry
	if cfg.Redis.Host != "" {
		reg = registry.New(redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), logger, "")
		logger.Infow("ssrc ownership registry enabled", "redis_host", cfg.Redis.Host)
	}

	router := voice.NewRouter(
		func() (voice.Decoder, error) { return opusdec.New() },
		nil, // consumer factory is bound by the embedder via router.SetConsumerFactory
		logger,
		cfg.ReorderCapacity,
		cfg.ReorderModulus,
		cfg.SilenceThreshold,
		reg,
	)

	sess := transport.NewSession(cfg.ListenHost, cfg.ListenPort, box, router, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("shutdown signal received, stopping")
		sess.Stop()
		return nil
	})
	g.Go(func() error {
		if err := sess.Start(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("voice session: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// buildBox decodes cfg.VoiceSecretKey and resolves cfg.VoiceCryptoMode into a
// *voicecrypto.Box. An empty key is accepted (the caller logs a warning) so
// the rest of the stack stays runnable in environments that provision the
// key later.
func buildBox(cfg *config.AppConfig) (*voicecrypto.Box, error) {
	var key [32]byte
	if cfg.VoiceSecretKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(cfg.VoiceSecretKey)
		if err != nil {
			return nil, fmt.Errorf("voice secret key must be base64: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("voice secret key must decode to 32 bytes, got %d", len(decoded))
		}
		copy(key[:], decoded)
	}

	mode, err := parseCryptoMode(cfg.VoiceCryptoMode)
	if err != nil {
		return nil, err
	}
	return voicecrypto.NewBox(key, mode), nil
}

func parseCryptoMode(s string) (voicecrypto.Mode, error) {
	switch s {
	case "normal", "":
		return voicecrypto.ModeNormal, nil
	case "suffix":
		return voicecrypto.ModeSuffix, nil
	case "lite":
		return voicecrypto.ModeLite, nil
	default:
		return 0, fmt.Errorf("unknown voice crypto mode %q", s)
	}
}
