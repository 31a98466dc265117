package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/api"
	"github.com/AaronLay10/DialogStudio/internal/branch"
	"github.com/AaronLay10/DialogStudio/internal/config"
	"github.com/AaronLay10/DialogStudio/internal/events"
	"github.com/AaronLay10/DialogStudio/internal/logging"
	"github.com/AaronLay10/DialogStudio/internal/mqtt"
	"github.com/AaronLay10/DialogStudio/internal/storage/dynamodb"
	"github.com/AaronLay10/DialogStudio/internal/storage/postgres"
	"github.com/AaronLay10/DialogStudio/internal/version"
)

func main() {
	configPath := flag.String("config", os.Getenv("DIALOGSTUDIO_CONFIG"), "path to studio.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("api server failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, eventLog, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	storeOpts := []branch.Option{branch.WithLogger(logger)}
	serverOpts := []api.Option{api.WithLogger(logger)}
	if eventLog != nil {
		serverOpts = append(serverOpts, api.WithEventLog(eventLog))
	}

	if cfg.MQTT.Enabled {
		mc := mqtt.NewClient(mqtt.Options{
			BrokerURL:   cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, logger)
		mc.StartWithRetry()
		defer mc.Disconnect()

		storeOpts = append(storeOpts, branch.WithNotifier(mc))
		serverOpts = append(serverOpts, api.WithReadinessCheck("mqtt", mc.Ping))
	}

	hostname, _ := os.Hostname()
	_, _ = events.Emit("info", "system.startup", "dialogstudio api starting", map[string]interface{}{
		"service":  "dialogstudio-api",
		"version":  version.Version,
		"hostname": hostname,
		"pid":      os.Getpid(),
		"storage":  cfg.Storage.Backend,
	})

	store := branch.NewStore(backend, storeOpts...)
	srv := api.NewServer(store, serverOpts...)

	var tlsCfg *api.TLSConfig
	if cfg.Server.TLSCert != "" {
		tlsCfg = &api.TLSConfig{CertFile: cfg.Server.TLSCert, KeyFile: cfg.Server.TLSKey}
	}
	err = srv.ListenAndServe(ctx, cfg.Server.Addr, tlsCfg)

	_, _ = events.Emit("info", "system.shutdown", "dialogstudio api stopped", map[string]interface{}{
		"service": "dialogstudio-api",
	})
	return err
}

// openBackend returns the configured branch backend, the persisted event log
// when the backend keeps one, and a release func.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (branch.Backend, api.EventLog, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pg := cfg.Storage.Postgres
		port := ""
		if pg.Port != 0 {
			port = strconv.Itoa(pg.Port)
		}
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		client, err := postgres.New(connectCtx, postgres.Options{
			Host:      pg.Host,
			Port:      port,
			User:      pg.User,
			Password:  pg.Password,
			Database:  pg.Database,
			SSLMode:   pg.SSLMode,
			Workspace: cfg.Storage.Workspace,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		events.SetSink(client)
		logger.Info("using postgres storage", zap.String("workspace", cfg.Storage.Workspace))
		return client, client, func() {
			events.SetSink(nil)
			client.Close()
		}, nil

	case config.BackendDynamoDB:
		ddb := cfg.Storage.DynamoDB
		b, err := dynamodb.Open(ctx, dynamodb.Options{
			Table:     ddb.Table,
			Region:    ddb.Region,
			Endpoint:  ddb.Endpoint,
			Workspace: cfg.Storage.Workspace,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using dynamodb storage", zap.String("table", ddb.Table))
		return b, nil, func() {}, nil

	default:
		logger.Warn("using in-memory storage, branches are lost on restart")
		return branch.NewMemoryBackend(), nil, func() {}, nil
	}
}
