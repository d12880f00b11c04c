package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/flowpbx/flowpbx/internal/api"
	"github.com/flowpbx/flowpbx/internal/archive"
	"github.com/flowpbx/flowpbx/internal/config"
	"github.com/flowpbx/flowpbx/internal/dispatcher"
	"github.com/flowpbx/flowpbx/internal/metrics"
	"github.com/flowpbx/flowpbx/internal/store"
	"github.com/flowpbx/flowpbx/internal/tdoa"
	"github.com/flowpbx/flowpbx/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting soundtri",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"tls", cfg.TLSEnabled(),
		"listeners", cfg.ListenerIDs(),
	)

	arc, err := archive.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open event archive", "error", err)
		os.Exit(1)
	}
	defer arc.Close()

	hub := ws.NewHub()
	pub := &multiPublisher{hub: hub, archive: arc}

	geo := dispatcher.Geometry{
		ListenerIDs:  cfg.ListenerIDs(),
		SpeedOfSound: cfg.SpeedOfSound,
		Bounds:       boundsFromConfig(cfg.ExtendedBounds(2)),
		Positions:    make(map[string]tdoa.Receiver, len(cfg.Listeners)),
	}
	for _, l := range cfg.Listeners {
		geo.Positions[l.ID] = tdoa.Receiver{X: l.Pos.X, Y: l.Pos.Y}
	}

	d := dispatcher.New(
		store.New(), geo,
		cfg.ClapThreshold, cfg.EventWindowMS, cfg.SyncWindowMS, cfg.SyncRounds,
		pub,
	)

	startTime := time.Now()
	collector := metrics.NewCollector(d, d, d, hub, startTime)
	prometheus.MustRegister(collector)

	handler := api.NewServer(d, cfg, hub)
	defer handler.Close()

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var redirectSrv *http.Server
	errCh := make(chan error, 1)

	switch {
	case cfg.ACMEDomain != "":
		cacheDir := filepath.Join(cfg.DataDir, "acme-certs")
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.ACMEDomain),
			Cache:      autocert.DirCache(cacheDir),
			Email:      cfg.ACMEEmail,
		}
		srv.Addr = ":443"
		srv.TLSConfig = m.TLSConfig()

		redirectSrv = &http.Server{
			Addr:         ":80",
			Handler:      m.HTTPHandler(nil),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		}

		go func() {
			slog.Info("https server listening (acme)", "addr", srv.Addr, "domain", cfg.ACMEDomain)
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		go func() {
			slog.Info("http challenge server listening", "addr", redirectSrv.Addr)
			if err := redirectSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http challenge server error", "error", err)
			}
		}()

	case cfg.TLSCert != "":
		srv.Addr = fmt.Sprintf(":%d", cfg.HTTPPort)
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}

		go func() {
			slog.Info("https server listening", "addr", srv.Addr)
			if err := srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

	default:
		srv.Addr = fmt.Sprintf(":%d", cfg.HTTPPort)
		go func() {
			slog.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")

	if redirectSrv != nil {
		if err := redirectSrv.Shutdown(ctx); err != nil {
			slog.Error("http challenge server shutdown error", "error", err)
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("soundtri stopped")
}

// boundsFromConfig adapts the config package's RoomBounds into the tdoa
// package's own Bounds type, avoiding an import cycle between the two.
func boundsFromConfig(b config.RoomBounds) tdoa.Bounds {
	return tdoa.Bounds{MinX: b.MinX, MaxX: b.MaxX, MinY: b.MinY, MaxY: b.MaxY}
}

// multiPublisher fans a committed event out to the WebSocket hub and the
// durable archive. Archive failures are logged, not fatal: the in-memory
// store remains authoritative for the live API.
type multiPublisher struct {
	hub     *ws.Hub
	archive *archive.Archive
}

func (p *multiPublisher) Publish(e store.Event) {
	if err := p.archive.Append(e); err != nil {
		slog.Error("archive: failed to persist event", "event_id", e.ID, "error", err)
	}
	p.hub.Publish(e)
}
