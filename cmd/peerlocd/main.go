package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pinmesh/peerloc/internal/config"
	"github.com/pinmesh/peerloc/internal/journal"
	"github.com/pinmesh/peerloc/internal/logging"
	"github.com/pinmesh/peerloc/internal/markers"
	intOtel "github.com/pinmesh/peerloc/internal/otel"
	"github.com/pinmesh/peerloc/internal/peers"
	"github.com/pinmesh/peerloc/internal/remote"
	"github.com/pinmesh/peerloc/internal/render"
	"github.com/pinmesh/peerloc/internal/sampling"
	"github.com/pinmesh/peerloc/internal/sharing"
	"github.com/pinmesh/peerloc/internal/telemetry"
	"github.com/pinmesh/peerloc/internal/validate"
)

const serviceName = "peerlocd"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "peerlocd:", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := flag.String("config", ".", "directory containing peerlocd.cfg.json")
	deviceID := flag.String("device", "", "override device.id from config")
	startLat := flag.Float64("lat", 52.52, "simulated start latitude")
	startLng := flag.Float64("lng", 13.405, "simulated start longitude")
	flag.Parse()

	if err := config.Load(*configDir); err != nil {
		return err
	}

	device := config.GetString("device.id")
	if *deviceID != "" {
		device = *deviceID
	}
	if device == "" {
		device = fmt.Sprintf("device-%d", os.Getpid())
	}

	sessionStart := time.Now()
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	logFile, err := os.OpenFile(
		logging.LogFilePath(logsDir, serviceName, sessionStart),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644,
	)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	// OTel log export, gated by config.
	var otelLogFile *os.File
	otelCfg := intOtel.Config{
		Enabled:      config.GetBool("otel.enabled"),
		ServiceName:  serviceName,
		BatchTimeout: config.Seconds("otel.batchTimeoutSec"),
		Endpoint:     config.GetString("otel.endpoint"),
		Insecure:     config.GetBool("otel.insecure"),
	}
	if otelCfg.Enabled {
		otelLogFile, err = os.OpenFile(
			filepath.Join(logsDir, serviceName+".otel.json"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644,
		)
		if err != nil {
			return fmt.Errorf("opening otel log file: %w", err)
		}
		defer otelLogFile.Close()
		otelCfg.LogWriter = otelLogFile
	}
	otelProvider, err := intOtel.New(otelCfg)
	if err != nil {
		return fmt.Errorf("initializing otel: %w", err)
	}

	var extraSinks []io.Writer
	if config.GetBool("graylog.enabled") {
		gelfWriter, err := logging.NewGraylogWriter(config.GetString("graylog.address"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "peerlocd: graylog unavailable:", err)
		} else {
			extraSinks = append(extraSinks, gelfWriter)
		}
	}

	logLevel := config.GetString("logLevel")
	slogManager := logging.NewSlogManager()
	slogManager.Setup(logFile, logLevel, otelProvider.LoggerProvider(), extraSinks...)
	log := slogManager.Logger().With("device", device)

	zlog := logging.NewZerolog(logLevel, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Journal, optional. A failed connect degrades to no journaling.
	var jm *journal.Manager
	if config.GetBool("journal.enabled") {
		jm = journal.NewManager(zlog, device)
		jm.SqliteFilePath = filepath.Join(logsDir, "peerloc.db")
		if err := jm.Connect(); err != nil {
			log.Warn("journal unavailable", "error", err)
		} else if err := jm.Setup(); err != nil {
			log.Warn("journal migration failed", "error", err)
		}
		defer jm.Close()
	} else {
		jm = journal.NewManager(zlog, device)
	}

	// Telemetry, optional.
	tm := telemetry.NewManager(zlog, device, filepath.Join(logsDir, "telemetry.lp.gz"))
	if config.GetBool("influx.enabled") {
		if err := tm.Connect(); err != nil {
			log.Warn("telemetry unavailable", "error", err)
		}
		defer tm.Close()
	}

	validator := validate.New()

	// Marker layer: map surface plus journal mirror behind one fan-out.
	mapSurface := render.NewLogRenderer(log)
	store := markers.NewStore(markers.Config{
		MinInterval:  config.Seconds("markers.minIntervalSec"),
		MinDistanceM: config.GetFloat64("markers.minDistanceM"),
	}, render.NewMulti(mapSurface, journal.NewRecorder(jm)))

	pipeline, err := peers.New(peers.Config{
		QueueCapacity: config.GetInt("peers.queueCapacity"),
		Debounce:      config.Millis("peers.debounceMs"),
		StaleAfter:    config.Seconds("peers.staleAfterSec"),
	}, store, validator, log)
	if err != nil {
		return fmt.Errorf("creating peer pipeline: %w", err)
	}

	client := remote.New(
		config.GetString("api.serverUrl"),
		config.GetString("api.apiKey"),
		device,
	)
	feed := remote.NewPollingFeed(client, config.Seconds("api.pollIntervalSec"), log)

	source := newSimulatedSource(*startLat, *startLng)
	power := newSimulatedPower(ctx)

	controller, err := sampling.New(sampling.Config{
		MinDistanceM:       config.GetFloat64("sampling.minDistanceM"),
		LivenessInterval:   config.Seconds("sampling.livenessIntervalSec"),
		PolicyCooldown:     config.Seconds("sampling.policyCooldownSec"),
		IntervalTolerance:  config.Seconds("sampling.intervalToleranceSec"),
		OneShotTimeout:     config.Seconds("sampling.oneShotTimeoutSec"),
		StreamBuffer:       sampling.DefaultConfig().StreamBuffer,
		LowBatteryPct:      config.GetInt("sampling.lowBatteryPct"),
		CriticalBatteryPct: config.GetInt("sampling.criticalBatteryPct"),
		StationaryAfter:    config.Seconds("sampling.stationaryAfterSec"),
		MovingSpeedMS:      config.GetFloat64("sampling.movingSpeedMs"),
		FastSpeedMS:        config.GetFloat64("sampling.fastSpeedMs"),
	}, source, power, validator, log)
	if err != nil {
		return fmt.Errorf("creating sampling controller: %w", err)
	}

	machine := sharing.New(sharing.Config{
		MaxRetries:    config.GetInt("sharing.maxRetries"),
		RetryDelay:    config.Seconds("sharing.retryDelaySec"),
		RemoteTimeout: config.Seconds("sharing.remoteTimeoutSec"),
	}, client, controller, log)

	go func() {
		for n := range machine.Notifications() {
			switch n.Severity {
			case sharing.SeverityWarning:
				log.Warn(n.Message)
			case sharing.SeverityError:
				log.Error(n.Message)
			default:
				log.Info(n.Message)
			}
			if jm.IsValid {
				snap := machine.Snapshot()
				if err := jm.RecordSharingTransition(snap.Status, snap.LastError); err != nil {
					log.Warn("failed to journal sharing transition", "error", err)
				}
			}
		}
	}()

	go func() {
		if err := pipeline.Run(ctx, feed); err != nil && ctx.Err() == nil {
			log.Error("peer pipeline stopped", "error", err)
		}
	}()

	go func() {
		if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("sampling controller stopped", "error", err)
		}
	}()

	if err := machine.Start(ctx); err != nil {
		log.Warn("sharing did not start", "error", err)
	}

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	log.Info("peerlocd running",
		"server", config.GetString("api.serverUrl"),
		"journal", jm.IsValid,
		"telemetry", tm.IsValid || tm.BackupWriter != nil,
	)

	lastPolicy := controller.ActivePolicy()
	for {
		select {
		case <-ctx.Done():
			return shutdown(log, slogManager, otelProvider, machine)

		case r, ok := <-controller.Readings():
			if !ok {
				if err := controller.Err(); err != nil {
					return fmt.Errorf("position stream ended: %w", err)
				}
				return shutdown(log, slogManager, otelProvider, machine)
			}
			if err := machine.Publish(ctx, r); err != nil {
				log.Debug("publish failed, will retry on next reading", "error", err)
			}
			if err := jm.RecordPosition(r, controller.Motion()); err != nil {
				log.Warn("failed to journal position", "error", err)
			}

			if p := controller.ActivePolicy(); p != lastPolicy {
				lastPolicy = p
				if err := jm.RecordPolicyChange(p, controller.Motion(), power.BatteryPercent(), power.IsCharging()); err != nil {
					log.Warn("failed to journal policy change", "error", err)
				}
				point := tm.PolicyChangePoint(p, controller.Motion(), power.BatteryPercent())
				if err := tm.WritePoint(ctx, "location_pipeline", point); err != nil {
					log.Debug("telemetry write skipped", "error", err)
				}
			}

		case <-statsTicker.C:
			stats := tm.PipelineStatsPoint(pipeline.QueueLen(), pipeline.PendingCount(), pipeline.DroppedCount())
			if err := tm.WritePoint(ctx, "location_pipeline", stats); err != nil {
				log.Debug("telemetry write skipped", "error", err)
			}
			battery := tm.BatteryPoint(power.BatteryPercent(), power.IsCharging())
			if err := tm.WritePoint(ctx, "device_health", battery); err != nil {
				log.Debug("telemetry write skipped", "error", err)
			}
			if lat, lng, ok := mapSurface.Center(); ok {
				log.Debug("map framing", "lat", lat, "lng", lng, "markers", mapSurface.Count())
			}
		}
	}
}

// shutdown stops sharing and flushes the log pipeline. It uses a fresh
// context because the run context is already cancelled.
func shutdown(log *slog.Logger, slogManager *logging.SlogManager, provider *intOtel.Provider, machine *sharing.Machine) error {
	log.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()

	if err := machine.Stop(stopCtx); err != nil {
		log.Warn("sharing stop failed", "error", err)
	}
	if err := slogManager.Flush(stopCtx); err != nil {
		log.Warn("log flush failed", "error", err)
	}
	if err := provider.Shutdown(stopCtx); err != nil {
		log.Warn("otel shutdown failed", "error", err)
	}
	return nil
}
