// Package tnd assembles a Tron protocol node: it loads the configuration,
// sets up logging, metrics and health checks and runs the networking core
// until shutdown is requested.
package tnd

import (
	"fmt"
	"net"

	"github.com/coreos/go-systemd/daemon"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tronnode/tnd/build"
	"github.com/tronnode/tnd/monitoring"
	"github.com/tronnode/tnd/signal"
)

// Main is the true entry point for tnd. It runs the node until the
// interceptor's shutdown channel closes. It is separate from the main
// function so deferred cleanups run before the process exits.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		tndLog.Info("Shutdown complete")
		if cfg.logRotator != nil {
			if err := cfg.logRotator.Close(); err != nil {
				tndLog.Errorf("Could not close log rotator: %v",
					err)
			}
		}
	}()

	// Show version at startup.
	tndLog.Infof("Version: %s commit=%s, build=%s, logging=%s, "+
		"debuglevel=%s", build.Version(), build.Commit,
		build.Deployment, build.LoggingType, cfg.DebugLevel)

	clk := clock.NewDefaultClock()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	listeners := make([]net.Listener, 0, len(cfg.Listeners))
	for _, addr := range cfg.Listeners {
		l, err := net.Listen(addr.Network(), addr.String())
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}

			return fmt.Errorf("unable to listen on %v: %w", addr,
				err)
		}
		listeners = append(listeners, l)
	}

	srv, err := newServer(cfg, listeners, registry, clk)
	if err != nil {
		for _, l := range listeners {
			_ = l.Close()
		}

		return fmt.Errorf("unable to create server: %w", err)
	}

	if err := registerNodeStats(registry, srv, clk); err != nil {
		return err
	}

	if cfg.Prometheus.Enabled() {
		exporter := monitoring.NewExporter(cfg.Prometheus, registry)
		if err := exporter.Start(); err != nil {
			return fmt.Errorf("unable to start metrics "+
				"exporter: %w", err)
		}
		defer func() {
			if err := exporter.Stop(); err != nil {
				tndLog.Errorf("Unable to stop metrics "+
					"exporter: %v", err)
			}
		}()
	}

	monitor := newHealthMonitor(cfg, interceptor)
	if err := monitor.Start(); err != nil {
		return fmt.Errorf("unable to start health monitor: %w", err)
	}
	defer func() {
		if err := monitor.Stop(); err != nil {
			tndLog.Errorf("Unable to stop health monitor: %v", err)
		}
	}()

	// Stop also closes the subsystems a failed Start got to initialize.
	defer func() {
		if err := srv.Stop(); err != nil {
			tndLog.Errorf("Unable to stop server: %v", err)
		}
	}()
	if err := srv.Start(); err != nil {
		return fmt.Errorf("unable to start server: %w", err)
	}

	tndLog.Infof("Node started, listening on %v", cfg.Listeners)

	// Tell systemd we are ready, if we run under it.
	notified, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		tndLog.Warnf("Unable to notify systemd: %v", err)
	} else if notified {
		tndLog.Debug("Notified systemd of readiness")
	}

	// Wait for shutdown signal from either a graceful server stop or from
	// the interrupt handler.
	<-interceptor.ShutdownChannel()

	return nil
}

// newHealthMonitor creates the health monitor. A failing check requests
// shutdown through the interceptor.
func newHealthMonitor(cfg *Config,
	interceptor signal.Interceptor) *healthcheck.Monitor {

	disk := cfg.HealthChecks.DiskCheck
	diskCheck := healthcheck.NewObservation(
		"disk space",
		func() error {
			free, err := healthcheck.AvailableDiskSpaceRatio(
				cfg.DataDir,
			)
			if err != nil {
				return err
			}

			// If we have more free space than we require, we
			// return a nil error.
			if free > disk.RequiredRemaining {
				return nil
			}

			return fmt.Errorf("require: %v free space, got: %v",
				disk.RequiredRemaining, free)
		},
		disk.Interval, disk.Timeout, disk.Backoff, disk.Attempts,
	)

	var checks []*healthcheck.Observation
	if disk.Attempts > 0 {
		checks = append(checks, diskCheck)
	}

	return healthcheck.NewMonitor(&healthcheck.Config{
		Checks: checks,
		Shutdown: func(format string, params ...interface{}) {
			tndLog.Errorf("Health check: "+format, params...)
			interceptor.RequestShutdown()
		},
	})
}
