package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"meshcall/native/internal/config"
	"meshcall/native/internal/logging"
	"meshcall/native/internal/rendezvous"
)

func newRelayCmd(load func(*pflag.FlagSet) (*viper.Viper, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "relay",
		Short:   "Run the rendezvous relay",
		Example: `  meshcall relay --addr :5000 --redis-addr localhost:6379`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := load(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.LoadRelay(v)
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("addr", "", "listen address")
	f.String("redis-addr", "", "Redis address for room presence")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
	f.String("mode", "", "debug or release")
	f.StringSlice("allowed-origins", nil, "browser origins allowed to connect")
	f.StringSlice("stun", nil, "STUN server URLs handed to clients")
	f.String("turn", "", "TURN server URL handed to clients")
	f.String("turn-user", "", "TURN username")
	f.String("turn-pass", "", "TURN password")
	f.String("log-level", "", "debug, info, warn, error or none")
	f.String("log-format", "", "console or json")
	return cmd
}

func runRelay(parent context.Context, cfg *config.Relay) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log = log.With().Str("module", "main").Logger()

	ctx, stop := ossignal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var presence rendezvous.Presence = rendezvous.NewMemoryPresence()
	if cfg.RedisAddr != "" {
		rp, err := rendezvous.NewRedisPresence(ctx, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer rp.Close()
		presence = rp
		log.Info().Str("redis", cfg.RedisAddr).Msg("presence in redis")
	}

	hub := rendezvous.NewHub(presence, log)
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: rendezvous.NewRouter(hub, rendezvous.RouterConfig{
			ICEServers:     cfg.ICEServers(),
			AllowedOrigins: cfg.AllowedOrigins,
			Release:        cfg.Mode == "release",
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("relay listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
