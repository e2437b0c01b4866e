// Package monitoring serves the node's Prometheus metrics over HTTP.
package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tronnode/tnd/tncfg"
)

// shutdownTimeout bounds how long Stop waits for scrapes in progress.
const shutdownTimeout = 5 * time.Second

// Exporter serves the metrics of a registry on /metrics.
type Exporter struct {
	cfg      tncfg.Prometheus
	gatherer prometheus.Gatherer

	startOnce sync.Once
	stopOnce  sync.Once

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// NewExporter creates an exporter for the metrics gathered by g.
func NewExporter(cfg tncfg.Prometheus, g prometheus.Gatherer) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	return &Exporter{
		cfg:      cfg,
		gatherer: g,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listen address and serves scrapes in the background.
func (e *Exporter) Start() error {
	var err error
	e.startOnce.Do(func() {
		e.listener, err = net.Listen("tcp", e.cfg.Listen)
		if err != nil {
			return
		}

		log.Infof("Prometheus exporter started on %v/metrics",
			e.listener.Addr())

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()

			err := e.server.Serve(e.listener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Prometheus exporter failed: %v",
					err)
			}
		}()
	})

	return err
}

// Addr returns the bound address, or nil before Start.
func (e *Exporter) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Stop shuts the HTTP server down.
func (e *Exporter) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		if e.listener == nil {
			return
		}

		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		err = e.server.Shutdown(ctx)
		e.wg.Wait()
	})

	return err
}
