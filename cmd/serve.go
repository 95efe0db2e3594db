package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/swecc-uw/swecc-sockets/pkg/api"
	"github.com/swecc-uw/swecc-sockets/pkg/config"
	"github.com/swecc-uw/swecc-sockets/pkg/docker"
	"github.com/swecc-uw/swecc-sockets/pkg/events"
	"github.com/swecc-uw/swecc-sockets/pkg/handlers"
	"github.com/swecc-uw/swecc-sockets/pkg/log"
	"github.com/swecc-uw/swecc-sockets/pkg/mq"
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

const (
	reviewedResumeQueue    = "sockets.reviewed-resume"
	reviewedResumeExchange = "swecc-ai-exchange"
	reviewedResumeKey      = "reviewed"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the websocket gateway",
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"), c.Bool("debug"))
		},
	}
}

func serve(ctx context.Context, configPath string, debugFlag bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyLogToggles(cfg, debugFlag, nil)

	logger := log.ForService("serve")

	reg := registry.New()
	emitters := map[registry.ServiceKind]*events.Emitter{
		registry.KindEcho:   events.NewEmitter(),
		registry.KindLogs:   events.NewEmitter(),
		registry.KindRoom:   events.NewEmitter(),
		registry.KindResume: events.NewEmitter(),
	}

	handlers.Subscribe(emitters[registry.KindEcho], handlers.NewEchoHandler(reg))
	handlers.Subscribe(emitters[registry.KindRoom], handlers.NewRoomHandler(reg))

	resumeHandler := handlers.NewResumeHandler(reg)
	handlers.Subscribe(emitters[registry.KindResume], resumeHandler)

	// the gateway runs without the container runtime; logs connections then
	// get command errors instead of streams
	if dockerClient, err := docker.NewClient(); err != nil {
		logger.Warnf("container runtime unavailable, log streaming disabled: %v", err)
	} else {
		handlers.Subscribe(emitters[registry.KindLogs], handlers.NewContainerLogsHandler(reg, dockerClient))
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := mq.NewBridge(cfg.AMQPURL())
	bridge.RegisterConsumer(mq.ConsumerSpec{
		Queue:           reviewedResumeQueue,
		Exchange:        reviewedResumeExchange,
		RoutingKey:      reviewedResumeKey,
		DeclareExchange: true,
		Handler: mq.Decoded(func(ctx context.Context, msg handlers.ReviewedResume) {
			resumeHandler.HandleReviewed(ctx, msg)
		}),
	})
	bridge.RegisterProducer("default", mq.DefaultExchange, "topic", "")
	bridge.Start(serveCtx)
	defer bridge.Close()

	mux := http.NewServeMux()
	api.NewServer(cfg, reg, emitters).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: api.CorsMiddleware(mux),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnf("closing config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			logger.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			logger.Infof("watching config file for changes: %s", configPath)
		}
	}

	currentConfig := cfg
	for {
		var watchEvents chan fsnotify.Event
		var watchErrors chan error
		if watcher != nil {
			watchEvents = watcher.Events
			watchErrors = watcher.Errors
		}

		select {
		case sig := <-sigCh:
			logger.Infof("received %s, shutting down", sig)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("server shutdown: %v", err)
			}
			cancel()
			return nil

		case err := <-serverErr:
			cancel()
			return fmt.Errorf("http server: %w", err)

		case event, ok := <-watchEvents:
			if !ok {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// editors replace files on save; give the new file a moment
			time.Sleep(100 * time.Millisecond)
			if event.Has(fsnotify.Rename) {
				if err := watcher.Add(configPath); err != nil {
					logger.Warnf("re-watching config file: %v", err)
					continue
				}
			}
			newCfg, err := config.LoadConfig(configPath)
			if err != nil {
				logger.Errorf("reloading config: %v", err)
				continue
			}
			applyLogToggles(newCfg, debugFlag, currentConfig)
			currentConfig = newCfg
			logger.Infof("applied logging toggles from %s; address and broker changes need a restart", configPath)

		case err, ok := <-watchErrors:
			if !ok {
				continue
			}
			logger.Warnf("config file watcher error: %v", err)
		}
	}
}

// applyLogToggles syncs global and per-service debug logging with the
// config. prev carries the previously applied config so removed services
// are disabled again; nil means first application.
func applyLogToggles(cfg *config.Config, debugFlag bool, prev *config.Config) {
	log.SetGlobalDebug(debugFlag || cfg.Debug)

	enabled := make(map[string]bool, len(cfg.DebugServices))
	for _, name := range cfg.DebugServices {
		enabled[name] = true
		log.EnableDebugFor(name)
	}
	if prev != nil {
		for _, name := range prev.DebugServices {
			if !enabled[name] {
				log.DisableDebugFor(name)
			}
		}
	}
}
