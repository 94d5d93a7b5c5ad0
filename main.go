package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := LoadConfig()
	bootLog := NewLogger(cfg, os.Stdout)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load config")
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.ClientDir, "client", cfg.ClientDir, "Path to client directory (default: ../client)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for a shared relay (empty: in-process relay)")
	flag.DurationVar(&cfg.SettleDelay, "settle", cfg.SettleDelay, "Delay before pairing after a join")
	bot := flag.Bool("bot", false, "Run a headless bot client instead of the server")
	botServer := flag.String("server", "http://localhost:8080", "Server URL for -bot")
	flag.Parse()

	log := NewLogger(cfg, os.Stdout)

	if *bot {
		runBot(*botServer, log)
		return
	}

	if cfg.ClientDir == "" {
		exe, _ := os.Executable()
		cfg.ClientDir = filepath.Join(filepath.Dir(exe), "..", "client")
		// Fallback for development
		if _, err := os.Stat(cfg.ClientDir); os.IsNotExist(err) {
			cfg.ClientDir = "../client"
		}
	}

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer db.Close()

	relay, err := openRelay(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open relay")
	}
	defer relay.Close()

	analytics := NewAnalytics(db, log)
	defer analytics.Stop()

	auth := NewAuth(db, cfg.JWTSecret, log)
	mm := NewMatchmaker(MatchmakerConfig{
		Queue:       db,
		Matches:     db,
		SettleDelay: cfg.SettleDelay,
		Logger:      log,
		Tracker:     analytics,
	})
	finalizer := NewFinalizer(db, log, analytics)

	sched, err := StartScheduler(mm, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}
	defer sched.Stop()

	hub := NewHub(HubConfig{
		Relay:     relay,
		Matches:   db,
		Auth:      auth,
		Analytics: analytics,
		Logger:    log,
	})
	go hub.Run()
	defer hub.Stop()

	api := NewAPI(APIConfig{
		Auth:       auth,
		Matchmaker: mm,
		Finalizer:  finalizer,
		Stats:      db,
		Matches:    db,
		Analytics:  analytics,
		Config:     cfg,
		Logger:     log,
	})

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: cfg.Addr, Handler: NewHandler(api, hub)}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("client", cfg.ClientDir).Msg("server starting")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-stop
	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

// openRelay picks Redis when configured so several instances share match topics
func openRelay(cfg Config, log zerolog.Logger) (Relay, error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("using in-process relay")
		return NewMemoryRelay(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := NewRedisRelay(ctx, &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis relay")
	return r, nil
}

func runBot(server string, log zerolog.Logger) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if _, err := NewBotClient(server, log).Play(ctx); err != nil {
		log.Fatal().Err(err).Msg("bot")
	}
}
