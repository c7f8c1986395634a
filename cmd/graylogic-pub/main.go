// Gray Logic Pub - back-pressured message publisher
//
// graylogic-pub connects to an MQTT or Valkey broker and publishes every
// line read from stdin to the configured topic. Messages that cannot be
// delivered are journalled in SQLite, statistics go to Prometheus and
// InfluxDB, and a small HTTP API reports health and status.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-pubsub/internal/api"
	"github.com/nerrad567/gray-logic-pubsub/internal/deadletter"
	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/valkey"
	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
	"github.com/nerrad567/gray-logic-pubsub/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//   - input: Source of messages, one per line
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, input io.Reader) error {
	fs := flag.NewFlagSet("graylogic-pub", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to the YAML configuration file")
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("GRAYLOGIC")); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting Gray Logic Pub",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", *configPath,
	)

	transport, err := newTransport(cfg, log)
	if err != nil {
		return err
	}
	pubCfg, err := publisherConfig(cfg)
	if err != nil {
		return err
	}

	svc, err := messaging.NewService(transport, transportConfig(cfg))
	if err != nil {
		return fmt.Errorf("creating messaging service: %w", err)
	}
	svc.SetLogger(log)
	clientID := svc.ApplicationID()

	checks := make(map[string]api.HealthChecker)

	// Dead-letter journal (optional)
	var recorder *deadletter.Recorder
	var deadLetters deadletter.Repository
	if cfg.Database.Enabled {
		db, openErr := database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

		deadLetters = deadletter.NewSQLiteRepository(db.DB)
		recorder = deadletter.NewRecorder(deadLetters, clientID, log)
		recorder.OnRecord(journalled(log))
		checks["database"] = db
	}

	// InfluxDB (optional)
	var influx *influxdb.Telemetry
	if cfg.InfluxDB.Enabled {
		influx, err = influxdb.Open(ctx, cfg.InfluxDB, clientID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer influx.Close()
		influx.OnWriteError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks["influxdb"] = influx
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if err := addConnectionListeners(svc, log, influx); err != nil {
		return err
	}

	defer func() {
		if err := svc.Disconnect(); err != nil {
			log.Error("error disconnecting", "error", err)
		}
	}()
	if err := svc.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	checks["broker"] = svc

	pub, err := svc.NewPublisher(pubCfg)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	pub.SetPublishFailureListener(failureListener(log, recorder, influx))
	if err := pub.SetReadinessListener(func() {
		log.Debug("publisher ready")
	}); err != nil {
		return fmt.Errorf("setting readiness listener: %w", err)
	}
	if err := pub.Start(); err != nil {
		return fmt.Errorf("starting publisher: %w", err)
	}
	log.Info("publisher started",
		"topic", cfg.Publisher.Topic,
		"back_pressure", pubCfg.BackPressure,
		"buffer_capacity", pubCfg.BufferCapacity,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if influx != nil {
		reporter := influxdb.NewStatsReporter(svc, influx, cfg.GetReportInterval())
		g.Go(func() error {
			return reporter.Run(gctx)
		})
	}

	if cfg.API.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:      cfg.API,
			Logger:      log,
			Service:     svc,
			Publisher:   pub,
			DeadLetters: deadLetters,
			Checks:      checks,
			Version:     version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	g.Go(func() error {
		defer cancel()
		return publishLines(gctx, pub, messaging.Topic(cfg.Publisher.Topic), input, log)
	})

	// Terminating unblocks a publisher waiting on back-pressure.
	g.Go(func() error {
		<-gctx.Done()
		log.Info("terminating publisher", "buffered", pub.Buffered())
		termErr := pub.Terminate(cfg.GetTerminateGrace())
		if recorder != nil {
			recorder.RecordTermination(termErr)
		}
		var incomplete *messaging.IncompleteMessageDeliveryError
		if errors.As(termErr, &incomplete) {
			log.Warn("publisher terminated with undelivered messages", "count", incomplete.Undelivered)
			return nil
		}
		return termErr
	})

	if err := g.Wait(); err != nil {
		return err
	}

	stats := svc.Stats()
	log.Info("Gray Logic Pub stopped",
		"published", stats.Published,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
	return nil
}

// newTransport builds the transport selected by transport.kind.
func newTransport(cfg *config.Config, log *logging.Logger) (messaging.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportValkey:
		t := valkey.NewTransport(valkey.Options{InFlight: cfg.Transport.InFlight})
		t.SetLogger(log)
		return t, nil
	case config.TransportMQTT:
		t, err := mqtt.NewTransport(mqtt.Options{
			QoS:      byte(cfg.Transport.QoS),
			InFlight: cfg.Transport.InFlight,
		})
		if err != nil {
			return nil, fmt.Errorf("creating MQTT transport: %w", err)
		}
		t.SetLogger(log)
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// transportConfig converts the file configuration to session options.
func transportConfig(cfg *config.Config) messaging.TransportConfig {
	tc := messaging.DefaultTransportConfig()
	tc.BrokerURI = cfg.BrokerURI()
	tc.ClientID = cfg.Service.ClientID
	tc.Username = cfg.Transport.Auth.Username
	tc.Password = cfg.Transport.Auth.Password

	r := cfg.Transport.Reconnect
	tc.ReconnectionAttempts = r.Attempts
	tc.ReconnectionAttemptsWaitInterval = millis(r.WaitInterval)
	tc.ConnectionRetries = r.ConnectionRetries
	tc.ConnectionAttemptTimeout = millis(r.AttemptTimeout)

	tc.CompressionLevel = cfg.Transport.CompressionLevel
	if cfg.Transport.KeepAlive > 0 {
		tc.KeepAliveInterval = seconds(cfg.Transport.KeepAlive)
	}
	return tc
}

// publisherConfig converts the publisher section.
func publisherConfig(cfg *config.Config) (messaging.PublisherConfig, error) {
	bp, err := messaging.ParseBackPressure(cfg.Publisher.BackPressure)
	if err != nil {
		return messaging.PublisherConfig{}, err
	}
	mode, err := messaging.ParseDeliveryMode(cfg.Publisher.DeliveryMode)
	if err != nil {
		return messaging.PublisherConfig{}, err
	}

	pc := messaging.PublisherConfig{
		BackPressure: bp,
		DeliveryMode: mode,
	}
	if bp != messaging.BackPressureNone {
		pc.BufferCapacity = cfg.Publisher.BufferCapacity
	}
	return pc, nil
}

// addConnectionListeners logs connection events and records them in
// InfluxDB. influx may be nil.
func addConnectionListeners(svc *messaging.Service, log *logging.Logger, influx *influxdb.Telemetry) error {
	record := influx.RecordConnectionEvent

	if _, err := svc.AddReconnectionAttemptListener(func(e messaging.ServiceEvent) {
		log.Warn("broker connection lost, reconnecting", "message", e.Message, "cause", e.Cause)
		record("reconnecting", e)
	}); err != nil {
		return err
	}
	if _, err := svc.AddReconnectionListener(func(e messaging.ServiceEvent) {
		log.Info("broker reconnected", "broker", e.BrokerURI)
		record("reconnected", e)
	}); err != nil {
		return err
	}
	if _, err := svc.AddServiceInterruptionListener(func(e messaging.ServiceEvent) {
		log.Error("messaging service down", "cause", e.Cause)
		record("service_down", e)
	}); err != nil {
		return err
	}
	return nil
}

// failureListener fans a publish failure out to the log, the dead-letter
// journal and InfluxDB. recorder and influx may be nil.
func failureListener(log *logging.Logger, recorder *deadletter.Recorder, influx *influxdb.Telemetry) messaging.PublishFailureListener {
	var journal messaging.PublishFailureListener
	if recorder != nil {
		journal = recorder.FailureListener()
	}
	return func(f messaging.PublishFailure) {
		log.Warn("publish failed", "destination", f.Destination, "error", f.Err)
		if journal != nil {
			journal(f)
		}
		influx.RecordFailure(f)
	}
}

// journalled logs the id of each stored dead letter so it can be looked up
// through the API.
func journalled(log *logging.Logger) func(*deadletter.Letter) {
	return func(l *deadletter.Letter) {
		log.Info("undelivered message journalled",
			"id", l.ID,
			"destination", l.Destination,
			"reason", l.Reason,
		)
	}
}

// linePublisher is the part of *messaging.Publisher used by publishLines.
type linePublisher interface {
	PublishString(payload string, destination messaging.Topic, opts ...messaging.PublishOption) error
}

// publishLines publishes each non-empty line of input until EOF or ctx is
// cancelled. Overflow rejections are logged and the line is skipped.
//
// The reader goroutine is not interruptible; it ends with the process when
// input is a terminal.
func publishLines(ctx context.Context, pub linePublisher, topic messaging.Topic, input io.Reader, log *logging.Logger) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("reading input: %w", err)
					}
				default:
				}
				log.Info("input closed")
				return nil
			}
			if line == "" {
				continue
			}

			err := pub.PublishString(line, topic)
			switch {
			case err == nil:
			case errors.Is(err, messaging.ErrPublisherOverflow):
				log.Warn("publisher overflow, message dropped", "topic", topic)
			case errors.Is(err, messaging.ErrIllegalState):
				// Terminated during shutdown.
				return nil
			default:
				return fmt.Errorf("publishing: %w", err)
			}
		}
	}
}

func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
