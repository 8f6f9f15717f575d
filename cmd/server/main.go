package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shadowlog/internal/config"
	"shadowlog/internal/factory"
	"shadowlog/internal/handler"
	"shadowlog/internal/trap"
	"shadowlog/internal/util"
)

const (
	shutdownTimeout = 30 * time.Second
	drainTimeout    = 10 * time.Second
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}

	cfg := f.Config()

	ln, err := trap.Listen(cfg.TrapAddress())
	if err != nil {
		f.Close()
		util.Fatal("Could not bind trap port", util.ErrorField(err),
			util.Bool("bind_error", errors.Is(err, trap.ErrBind)))
	}

	go func() {
		if err := f.TrapServer().Serve(ln); err != nil {
			util.Error("Trap listener stopped", util.ErrorField(err))
		}
	}()

	util.Info("Trap listening",
		util.String("address", ln.Addr().String()),
		util.String("log_file", cfg.AttackLog.Path),
	)

	var servers []*http.Server
	if cfg.Dashboard.Enabled {
		servers = startDashboard(f, cfg)
	}

	waitForShutdown(f, ln, servers...)
}

// startDashboard serves the read-only dashboard and, with autocert, the
// plain-HTTP ACME challenge listener.
func startDashboard(f *factory.Factory, cfg *config.Config) []*http.Server {
	tlsOn := f.TLSManager() != nil
	router := handler.NewRouter(f.DashboardHandler(), handler.RouterConfig{
		RequireTLS: tlsOn,
		Auth:       f.DashboardAuth(),
	}, util.L())

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Dashboard.ReadTimeout,
		WriteTimeout: cfg.Dashboard.WriteTimeout,
		IdleTimeout:  cfg.Dashboard.IdleTimeout,
	}
	servers := []*http.Server{server}

	if !tlsOn {
		if cfg.Dashboard.User == "" {
			util.Warn("Dashboard is served over plain HTTP without authentication",
				util.String("address", server.Addr))
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.Error("Dashboard server failed", util.ErrorField(err))
			}
		}()
		util.Info("Dashboard started", util.String("address", server.Addr))
		return servers
	}

	tlsManager := f.TLSManager()
	server.TLSConfig = tlsManager.GetTLSConfig()

	if cfg.Dashboard.TLS.AutoCert {
		challenge := &http.Server{
			Addr:              net.JoinHostPort(cfg.Dashboard.Host, "80"),
			Handler:           tlsManager.ChallengeHandler(http.HandlerFunc(redirectToHTTPS)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, challenge)
		go func() {
			util.Info("Starting ACME challenge server", util.String("address", challenge.Addr))
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.Error("ACME challenge server failed", util.ErrorField(err))
			}
		}()
	}

	go func() {
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("Dashboard server failed", util.ErrorField(err))
		}
	}()

	util.Info("Dashboard started",
		util.String("address", server.Addr),
		util.Bool("tls_enabled", true),
		util.Bool("auto_cert", cfg.Dashboard.TLS.AutoCert),
	)
	return servers
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func waitForShutdown(f *factory.Factory, ln net.Listener, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	if err := ln.Close(); err != nil {
		util.Error("Failed to close trap listener", util.ErrorField(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}

	drained := make(chan struct{})
	go func() {
		f.TrapServer().Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		util.Warn("Trap connections still open at shutdown", util.Duration("waited", drainTimeout))
	}

	f.Close()
}
