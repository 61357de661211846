// Command analyzerd runs the VideoGuard analyzer runtime: it loads the
// static configuration, opens the metadata store and external sinks, dials
// the detection service, and serves the control plane and live-preview
// WebSocket endpoints until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"videoguard/internal/analyzer"
	"videoguard/internal/auth"
	"videoguard/internal/config"
	"videoguard/internal/controlplane"
	"videoguard/internal/detectclient"
	"videoguard/internal/notify"
	"videoguard/internal/objectstore"
	"videoguard/internal/store"
	"videoguard/internal/telegram"
	"videoguard/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPathF := flag.String("config", "", "path to the YAML config file (default: $CONFIG_PATH, else config.yml; a missing file falls back to the built-in defaults, but authSecret must still be set)")
	flag.Parse()

	configPath := *configPathF
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "config.yml"
	}

	logger := log.New(os.Stderr, "[analyzerd] ", log.Ltime)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("migrate store: %v", err)
	}
	logger.Printf("store ready at %s", cfg.Store.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	objects, err := objectstore.New(ctx, cfg.ObjectStore)
	if err != nil {
		logger.Fatalf("open object store: %v", err)
	}
	logger.Printf("object store ready at %s/%s", cfg.ObjectStore.Endpoint, cfg.ObjectStore.Bucket)

	bus, err := notify.Connect(cfg.Notify)
	if err != nil {
		logger.Fatalf("connect notification bus: %v", err)
	}
	defer bus.Close()
	logger.Printf("notification bus connected to %s", cfg.Notify.URL)

	var bot *telegram.TelegramBot
	if cfg.Telegram.Enabled {
		bot = telegram.NewTelegramBot(telegram.Config{
			BotToken:        cfg.Telegram.BotToken,
			ChatID:          cfg.Telegram.ChatID,
			Enabled:         cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "",
			CooldownSeconds: 30,
		})
		if bot.IsEnabled() {
			logger.Println("telegram notifications enabled")
		}
	}

	sinks := notify.NewSinks(bus, db, objects, bot, logger)

	detector, err := detectclient.Dial(cfg.Detector.Endpoint, cfg.Detector.DialTimeout)
	if err != nil {
		logger.Fatalf("dial detection service: %v", err)
	}
	defer detector.Close()
	logger.Printf("detection service dialed at %s", cfg.Detector.Endpoint)

	previewHub := ws.NewDetectionHub(logger)
	previewHandler := ws.NewHandler(previewHub, logger)

	supervisor, err := analyzer.NewSupervisor(ctx, db, detector, sinks, previewHub, logger, cfg.Frame.Width, cfg.Frame.Height)
	if err != nil {
		logger.Fatalf("init supervisor: %v", err)
	}

	authenticator := auth.NewAuthenticator(cfg.Auth.Enabled, cfg.Auth.Username, cfg.Auth.Password, cfg.AuthSecret)
	if authenticator.IsEnabled() {
		logger.Printf("control-plane authentication enabled (user: %s)", cfg.Auth.Username)
	} else {
		logger.Println("control-plane authentication disabled")
	}

	dispatcher := controlplane.NewDispatcher(supervisor)

	natsSub, err := controlplane.SubscribeNATS(dispatcher, bus)
	if err != nil {
		logger.Fatalf("subscribe control-plane NATS handler: %v", err)
	}
	defer natsSub.Unsubscribe()

	mux := http.NewServeMux()
	mux.Handle("/api/analyzer", controlplane.HTTPHandler(dispatcher, authenticator))
	mux.Handle("/ws/analyzer/", previewHandler)

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup

	if bot != nil && bot.IsEnabled() {
		cmdHandler := telegram.NewCommandHandler(bot, telegram.SupervisorAdapter{Supervisor: supervisor}, telegram.EventsAdapter{Store: db})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cmdHandler.StartPolling(ctx); err != nil {
				logger.Printf("telegram command handler: %v", err)
			}
		}()
		logger.Println("telegram command handler started")
	}

	server := &http.Server{
		Addr:    cfg.ControlPlane.ListenAddr,
		Handler: mux,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Printf("listening on %s", cfg.ControlPlane.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	logger.Printf("exiting (%v)", <-errc)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown: %v", err)
	}

	cancel()
	wg.Wait()
	logger.Println("exited")
}
