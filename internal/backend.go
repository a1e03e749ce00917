package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drivetune/drivetune/internal/api"
	"github.com/drivetune/drivetune/internal/configuration"
	"github.com/drivetune/drivetune/internal/mqtt"
	"github.com/drivetune/drivetune/internal/persistence"
	"github.com/drivetune/drivetune/internal/statistics"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// telemetry older than this is reported as missing
	telemetryTimeout    = 2 * time.Second
	telemetryCheckRate  = time.Second
	serverShutdownGrace = 5 * time.Second
)

func RunDaemon() {
	config := configuration.CurrentConfig

	pers := persistence.NewPersistence(config.DbPath)
	if err := pers.Init(); err != nil {
		ui.Fatal("Unable to initialize persistence at %s: %v", config.DbPath, err)
	}

	console := NewConsole(config, pers)
	registerCollectors(console)

	ctx, cancel := context.WithCancel(context.Background())

	var g run.Group
	{
		// === robot connection
		g.Add(func() error {
			return console.Run(ctx)
		}, func(err error) {
			if err != nil {
				ui.Warning("Robot connection stopped: %v", err)
			}
			cancel()
			console.Close()
		})
	}
	{
		// === telemetry watchdog
		g.Add(func() error {
			return watchTelemetry(ctx, console)
		}, func(err error) {
			cancel()
		})
	}
	if config.Statistics.Enabled {
		// === Prometheus Exporter
		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", config.Statistics.Port),
			Handler: promhttp.Handler(),
		}
		g.Add(func() error {
			ui.Info("Serving metrics on %s/metrics", server.Addr)
			return ignoreServerClosed(server.ListenAndServe())
		}, func(err error) {
			ui.Info("Stopping statistics server...")
			shutdown(server.Shutdown)
		})
	}
	if config.Api.Enabled {
		// === REST api
		rest, err := api.CreateRestService(api.Services{
			Robot:            console.Client,
			Sequencer:        console.Sequencer,
			Monitor:          console.Monitor,
			Persistence:      pers,
			Recorder:         console.Recorder,
			AutotuneDefaults: config.Autotune.RunConfig(),
		})
		if err != nil {
			ui.Fatal("Unable to create REST api: %v", err)
		}
		addr := fmt.Sprintf("%s:%d", config.Api.Host, config.Api.Port)
		g.Add(func() error {
			ui.Info("Serving REST api on %s", addr)
			return ignoreServerClosed(rest.Start(addr))
		}, func(err error) {
			ui.Info("Stopping REST api...")
			shutdown(rest.Shutdown)
		})
	}
	if config.Mqtt.Enabled {
		// === MQTT publisher
		publisher := mqtt.NewPublisher(mqtt.Options{
			Broker:      config.Mqtt.Broker,
			ClientId:    config.Mqtt.ClientId,
			Username:    config.Mqtt.Username,
			Password:    config.Mqtt.Password,
			TopicPrefix: config.Mqtt.TopicPrefix,
			Qos:         config.Mqtt.Qos,
		})
		g.Add(func() error {
			if err := publisher.Connect(); err != nil {
				return err
			}
			console.SetPublisher(publisher)
			<-ctx.Done()
			return nil
		}, func(err error) {
			publisher.Disconnect()
		})
	}
	{
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		g.Add(func() error {
			select {
			case <-sig:
				ui.Info("Received SIGTERM signal, exiting...")
			case <-ctx.Done():
			}
			return nil
		}, func(err error) {
			signal.Stop(sig)
			cancel()
		})
	}

	if err := g.Run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	} else {
		ui.Info("Done.")
		os.Exit(0)
	}
}

func registerCollectors(console *Console) {
	statistics.Register(statistics.NewTelemetryCollector(console.Monitor))
	statistics.Register(statistics.NewConnectionCollector(console.Client))

	autotuneCollector := statistics.NewAutotuneCollector(console.Sequencer)
	statistics.Register(autotuneCollector)
	console.Sequencer.AddListener(autotuneCollector.OnEvent)
}

// watchTelemetry warns once whenever the robot stops sending telemetry while connected
func watchTelemetry(ctx context.Context, console *Console) error {
	ticker := time.NewTicker(telemetryCheckRate)
	defer ticker.Stop()

	missing := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stale := console.Client.Connected() && console.Monitor.Stale(telemetryTimeout)
			if stale && !missing {
				ui.Warning("No telemetry received from the robot for %s", telemetryTimeout)
			} else if !stale && missing {
				ui.Info("Receiving telemetry again")
			}
			missing = stale
		}
	}
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func shutdown(f func(ctx context.Context) error) {
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), serverShutdownGrace)
	defer timeoutCancel()
	if err := f(timeoutCtx); err != nil {
		ui.Warning("Error stopping server: %v", err)
	}
}
