package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/yourusername/camlink/internal/api"
	"github.com/yourusername/camlink/internal/camera"
	"github.com/yourusername/camlink/internal/cloud"
	"github.com/yourusername/camlink/internal/coordinator"
	"github.com/yourusername/camlink/internal/core"
	"github.com/yourusername/camlink/internal/database"
	"github.com/yourusername/camlink/internal/events"
	"github.com/yourusername/camlink/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/config.yaml"
	version           = "0.1.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to config file")
	showVersion := flag.Bool("version", false, "print version info")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Cloud Camera Bridge v%s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	config, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(logger.LogConfig{
		Level:      config.Logging.Level,
		Output:     config.Logging.Output,
		FilePath:   config.Logging.FilePath,
		MaxSize:    config.Logging.MaxSize,
		MaxBackups: config.Logging.MaxBackups,
		MaxAge:     config.Logging.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting cloud camera bridge",
		zap.String("version", version),
		zap.String("go_version", runtime.Version()),
	)

	app, err := initializeApplication(config)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer app.cleanup()

	logger.Info("All components initialized successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Bridge is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	logger.Info("Received shutdown signal",
		zap.String("signal", sig.String()),
	)

	logger.Info("Bridge stopped gracefully")
}

// Application holds the wired components.
type Application struct {
	config      *core.Config
	db          *database.DB
	coordinator *coordinator.Coordinator
	registry    *camera.Registry
	eventHub    *events.Hub
	apiServer   *api.Server
}

// initializeApplication wires the components together.
func initializeApplication(config *core.Config) (*Application, error) {
	app := &Application{config: config}

	// 1. Credential store
	db, err := database.New(config.Database.Path, logger.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.db = db

	credentials := database.NewCredentialRepository(db, logger.Log)
	if err := seedCredentials(credentials, config.Cameras); err != nil {
		return nil, fmt.Errorf("failed to seed credentials: %w", err)
	}

	// 2. Cloud client
	baseURL, err := config.CloudBaseURL()
	if err != nil {
		return nil, err
	}

	client := cloud.NewAPIClient(baseURL, config.Cloud.SessionToken)
	client.SetRequestTimeout(time.Duration(config.Cloud.APITimeoutSec) * time.Second)
	logger.Info("Cloud client initialized", zap.String("base_url", baseURL))

	// 3. Coordinator
	app.coordinator = coordinator.New(coordinator.Config{
		Client:       client,
		Logger:       logger.Log,
		PollInterval: time.Duration(config.Cloud.PollIntervalSec) * time.Second,
		APITimeout:   time.Duration(config.Cloud.APITimeoutSec) * time.Second,
		OnReauthRequired: func(err error) {
			logger.Error("Cloud session expired, update the session token and restart",
				zap.Error(err),
			)
		},
	})

	// 4. Camera registry
	app.registry = camera.NewRegistry(camera.RegistryConfig{
		Coordinator: app.coordinator,
		Client:      client,
		Logger:      logger.Log,
		Lookup: func(serial string) (camera.Credentials, bool) {
			cred, err := credentials.Get(serial)
			if err != nil {
				if !errors.Is(err, database.ErrNotFound) {
					logger.Error("Credential lookup failed",
						zap.String("serial", serial),
						zap.Error(err),
					)
				}
				return camera.Credentials{}, false
			}
			return camera.Credentials{
				Username:  cred.Username,
				Password:  cred.Password,
				ExtraArgs: cred.ExtraArgs,
			}, true
		},
		OnDiscover: func(serial, localIP string) {
			logger.Warn("Discovered camera without configuration, please complete setup",
				zap.String("serial", serial),
				zap.String("local_ip", localIP),
			)
		},
	})

	// Pre-register every configured camera so its entity exists before the
	// serial shows up in a snapshot.
	stored, err := credentials.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	for _, cred := range stored {
		app.registry.AddConfigured(cred.Serial)
	}

	// 5. Event hub
	app.eventHub = events.NewHub(logger.Log)
	app.coordinator.Subscribe(app.eventHub.BroadcastSnapshot)
	logger.Info("Event hub initialized")

	// 6. Coordinator start (initial refresh + poll loop)
	if err := app.coordinator.Start(); err != nil {
		return nil, fmt.Errorf("failed to start coordinator: %w", err)
	}

	// 7. API server
	app.apiServer = api.NewServer(api.ServerConfig{
		Port:        config.Server.HTTPPort,
		Production:  config.Server.Production,
		Logger:      logger.Log,
		Coordinator: app.coordinator,
		Registry:    app.registry,
		HealthHandler: func() map[string]interface{} {
			return map[string]interface{}{
				"status":              "ok",
				"version":             version,
				"devices":             len(app.coordinator.Snapshot()),
				"cameras":             app.registry.Count(),
				"clients":             app.eventHub.ClientCount(),
				"last_update_success": app.coordinator.LastUpdateSuccess(),
				"polling_halted":      app.coordinator.Halted(),
			}
		},
		WebSocketHandler: app.eventHub.HandleWebSocket,
	})

	if err := app.apiServer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start API server: %w", err)
	}
	logger.Info("API server started")

	return app, nil
}

// seedCredentials upserts camera credentials from the config file into the
// store, so file-based configuration survives into the database.
func seedCredentials(repo *database.CredentialRepository, cameras map[string]core.CameraConfig) error {
	for serial, cam := range cameras {
		cred := &database.Credential{
			Serial:    serial,
			Username:  cam.Username,
			Password:  cam.Password,
			ExtraArgs: cam.ExtraArgs,
		}
		if cred.Username == "" {
			cred.Username = camera.DefaultUsername
		}

		exists, err := repo.Exists(serial)
		if err != nil {
			return err
		}

		if exists {
			if err := repo.Update(cred); err != nil {
				return err
			}
		} else {
			if err := repo.Create(cred); err != nil {
				return err
			}
		}
	}

	return nil
}

// cleanup releases application resources in reverse start order.
func (app *Application) cleanup() {
	logger.Info("Cleaning up application resources")

	if app.apiServer != nil {
		app.apiServer.Stop()
	}

	if app.coordinator != nil {
		app.coordinator.Stop()
	}

	if app.eventHub != nil {
		app.eventHub.Close()
	}

	if app.db != nil {
		app.db.Close()
	}

	logger.Info("Cleanup completed")
}
