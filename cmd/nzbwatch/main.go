package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nzbwatch/nzbwatch/internal/api"
	"github.com/nzbwatch/nzbwatch/internal/config"
	"github.com/nzbwatch/nzbwatch/internal/downloader"
	"github.com/nzbwatch/nzbwatch/internal/downloader/mock"
	"github.com/nzbwatch/nzbwatch/internal/events"
	"github.com/nzbwatch/nzbwatch/internal/health"
	"github.com/nzbwatch/nzbwatch/internal/logger"
	"github.com/nzbwatch/nzbwatch/internal/metrics"
	"github.com/nzbwatch/nzbwatch/internal/notification"
	"github.com/nzbwatch/nzbwatch/internal/notification/webhook"
	"github.com/nzbwatch/nzbwatch/internal/scheduler"
	"github.com/nzbwatch/nzbwatch/internal/scheduler/tasks"
	"github.com/nzbwatch/nzbwatch/internal/startup"
	"github.com/nzbwatch/nzbwatch/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file")
	dumpConfig := flag.Bool("dump-config", false, "Print the effective configuration and exit")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *dumpConfig {
		out, err := cfg.DumpYAML()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		Compress:        cfg.Logging.Compress,
		EnableStreaming: true,
		BufferSize:      1000,
	})
	defer log.Close()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("nzbwatch exited with error")
		log.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info().
		Str("version", config.Version).
		Str("client", cfg.Client.Type).
		Dur("interval", cfg.Poller.Interval).
		Dur("timeout", cfg.Poller.Timeout).
		Msg("starting nzbwatch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub(log.Logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	// Enable log streaming via WebSocket now that hub is available
	log.SetBroadcastHub(hub)

	bus := events.NewBus(log.WithComponent("events"))
	defer bus.Close()

	client, err := downloader.NewClient(downloader.ClientType(cfg.Client.Type), cfg.Client.ClientSettings())
	if err != nil {
		return fmt.Errorf("failed to create download client: %w", err)
	}
	if sim, ok := client.(*mock.Client); ok {
		sim.SetDurations(mock.DefaultQueueDelay, cfg.Mock.DownloadDuration)
		go sim.Simulate(ctx, cfg.Mock.SimulateEvery)
		log.Warn().Dur("every", cfg.Mock.SimulateEvery).Msg("using simulated download client")
	}

	healthSvc := health.NewService(log.Logger)
	healthSvc.SetBroadcaster(hub)
	healthSvc.SetPublisher(bus)
	clientID := cfg.Client.Name
	healthSvc.RegisterItem(health.CategoryDownloadClients, clientID, fmt.Sprintf("%s (%s)", cfg.Client.Name, cfg.Client.Type))
	healthSvc.RegisterItemStr(string(health.CategoryPoller), "refresh", "Download refresh")

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
	}

	coordinator, err := downloader.NewCoordinator(client, bus, downloader.CoordinatorConfig{
		Interval: cfg.Poller.Interval,
		Timeout:  cfg.Poller.Timeout,
	}, log.WithComponent("poller"))
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	coordinator.SetBroadcaster(hub)
	coordinator.SetHealthService(healthSvc)
	if recorder != nil {
		coordinator.SetMetrics(recorder)
	}

	detachHub := hub.Attach(bus, downloader.TopicDownloadComplete)
	defer detachHub()
	hub.SetRefreshHandler(func(ctx context.Context) error {
		_, err := coordinator.Refresh(ctx)
		return err
	})

	notifications := notification.NewService(log.Logger)
	if wh := cfg.Notifications.Webhook; wh.Enabled {
		notifications.Add(webhook.New("webhook", webhook.Settings{
			URL:          wh.URL,
			Method:       wh.Method,
			Username:     wh.Username,
			Password:     wh.Password,
			Headers:      wh.Headers,
			InstanceName: wh.InstanceName,
		}, &http.Client{Timeout: wh.Timeout}, log.Logger))
	}
	detachNotifications := notifications.Attach(bus, downloader.TopicDownloadComplete)
	defer detachNotifications()

	retryCfg := startup.RetryConfig{
		InitialDelay: cfg.Startup.InitialDelay,
		MaxDelay:     cfg.Startup.MaxDelay,
		MaxAttempts:  cfg.Startup.MaxAttempts,
		Multiplier:   startup.DefaultRetryConfig().Multiplier,
	}
	if err := startup.CheckClient(ctx, client, retryCfg, &log.Logger); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		healthSvc.SetError(health.CategoryDownloadClients, clientID, err.Error())
		log.Warn().Err(err).Msg("download client unreachable, polling will keep retrying")
	}

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return err
	}
	refreshTask, err := tasks.RegisterRefreshTask(sched, coordinator, cfg.Poller.MaxBackoff, &log.Logger)
	if err != nil {
		return fmt.Errorf("failed to register refresh task: %w", err)
	}
	if err := tasks.RegisterClientHealthTask(sched, client, clientID, healthSvc, cfg.Health.ClientCheckInterval, &log.Logger); err != nil {
		return fmt.Errorf("failed to register client health task: %w", err)
	}

	deps := api.Dependencies{
		Poller:        coordinator,
		Backoff:       refreshTask,
		Bus:           bus,
		Hub:           hub,
		Health:        healthSvc,
		ClientID:      clientID,
		ClientTester:  client.Test,
		Scheduler:     sched,
		Notifications: notifications,
		Logs:          log,
	}
	if recorder != nil {
		deps.Metrics = recorder.Handler()
	}
	server := api.NewServer(deps, cfg, log.Logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	stopHub()

	log.Info().Msg("nzbwatch stopped")
	return nil
}
