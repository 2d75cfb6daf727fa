// IncidentDesk records field incidents as audio recordings and tracks them
// from report to solution.
//
// The binary serves the REST API, stores recordings on local disk and
// optionally mirrors incident events to MQTT and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/nerrad567/incidentdesk/migrations"

	"github.com/nerrad567/incidentdesk/internal/api"
	"github.com/nerrad567/incidentdesk/internal/audit"
	"github.com/nerrad567/incidentdesk/internal/auth"
	"github.com/nerrad567/incidentdesk/internal/identity"
	"github.com/nerrad567/incidentdesk/internal/incident"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/config"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/database"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/influxdb"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/logging"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/mqtt"
	"github.com/nerrad567/incidentdesk/internal/metrics"
	"github.com/nerrad567/incidentdesk/internal/notify"
	"github.com/nerrad567/incidentdesk/internal/storage"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting IncidentDesk",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)
	metrics.SetBuildInfo(version)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	// Optional integrations. Both are off unless enabled in config.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log.Logger)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Background workers run on their own context. It is cancelled only after
	// the API server has closed, so entries queued by in-flight requests are
	// still drained.
	sender, err := buildSender(cfg, mqttClient, log)
	if err != nil {
		return err
	}
	mailer := notify.NewDispatcher(sender, notify.DispatcherOptions{
		QueueSize:       cfg.Mail.QueueSize,
		SendTimeout:     cfg.MailSendTimeout(),
		BaseURL:         cfg.API.BaseURL,
		VerificationTTL: cfg.VerificationTTL(),
		ResetTTL:        cfg.ResetTokenTTL(),
	}, log.Logger)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, audit.DefaultQueueSize, log.Logger)

	events, mqttSink := buildEventSink(mqttClient, influxClient, log)

	runs := []func(context.Context){mailer.Run, recorder.Run}
	if mqttSink != nil {
		runs = append(runs, mqttSink.Run)
	}
	stopWorkers := startWorkers(runs...)
	defer func() {
		stopWorkers()
		log.Info("background workers drained")
	}()

	tokens, err := auth.NewTokenService(cfg.Security.JWT.Secret, cfg.AccessTokenTTL(), cfg.ResetTokenTTL(),
		auth.WithIssuer(cfg.Security.JWT.Issuer),
		auth.WithTokenLogger(log.With("component", "tokens").Logger),
	)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	hasher := auth.NewArgon2Hasher(auth.HashParams{
		Time:      cfg.Security.Password.Time,
		MemoryKiB: cfg.Security.Password.MemoryKiB,
		Threads:   cfg.Security.Password.Threads,
	})

	audio, err := storage.NewFileStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening audio storage: %w", err)
	}

	people := identity.NewSQLiteRepository(db.DB)
	directory := identity.NewDirectory(people, hasher, tokens, mailer, log.Logger,
		identity.WithCodePolicy(cfg.Security.Verification.CodeLength, cfg.VerificationTTL()),
	)
	incidents := incident.NewWorkflow(incident.NewSQLiteRepository(db.DB), audio, people, log.Logger,
		incident.WithEvents(events),
	)

	if _, err := directory.SeedAdmin(ctx, identity.SeedAdminInput{
		Email:    cfg.Admin.Email,
		Password: cfg.Admin.Password,
		Name:     cfg.Admin.Name,
		Surname:  cfg.Admin.Surname,
	}); err != nil {
		return err
	}

	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		RateLimit: cfg.Security.RateLimit,
		Logger:    log,
		Tokens:    tokens,
		Directory: directory,
		Incidents: incidents,
		Audio:     audio,
		AuditLog:  auditRepo,
		Audit:     recorder,
		DB:        db,
		MQTT:      mqttClient,
		InfluxDB:  influxClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API server close, then worker cancel
	// and drain, InfluxDB, MQTT, database.
	return nil
}

// startWorkers runs each worker on a context detached from the shutdown
// signal. The returned stop cancels that context and waits for every worker
// to drain.
func startWorkers(runs ...func(context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, fn := range runs {
		wg.Go(func() { fn(ctx) })
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

// getConfigPath returns INCIDENTDESK_CONFIG when set, else the default.
func getConfigPath() string {
	if path := os.Getenv("INCIDENTDESK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildSender selects the outbound mail transport.
func buildSender(cfg *config.Config, mqttClient *mqtt.Client, log *logging.Logger) (notify.Sender, error) {
	switch cfg.Mail.Transport {
	case config.MailTransportSMTP:
		log.Info("mail transport: smtp", "host", cfg.Mail.SMTP.Host, "port", cfg.Mail.SMTP.Port)
		return notify.NewSMTPSender(cfg.Mail.From, cfg.Mail.SMTP, cfg.MailSendTimeout()), nil
	case config.MailTransportMQTT:
		if mqttClient == nil {
			return nil, errors.New("mail transport mqtt requires mqtt.enabled")
		}
		log.Info("mail transport: mqtt", "topic", cfg.Mail.Outbox.Topic)
		return notify.NewMQTTSender(mqttClient, cfg.Mail.Outbox.Topic, cfg.Mail.From), nil
	case config.MailTransportLog, "":
		log.Warn("mail transport: log, codes and reset links are written to the log")
		return notify.LogSender{Logger: log.Logger}, nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Mail.Transport)
	}
}

// buildEventSink fans incident events out to whichever integrations are
// connected. The returned MQTTSink, when non-nil, must be Run.
func buildEventSink(mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (incident.EventSink, *incident.MQTTSink) {
	var sinks incident.MultiSink
	var mqttSink *incident.MQTTSink
	if mqttClient != nil {
		mqttSink = incident.NewMQTTSink(mqttClient, 0, log.Logger)
		sinks = append(sinks, mqttSink)
	}
	if influxClient != nil {
		sinks = append(sinks, incident.InfluxSink{Writer: influxClient})
	}
	return sinks, mqttSink
}
