package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/orbitmp/matchserver/server"
	"github.com/orbitmp/matchserver/storage"
)

func main() {
	cfg, err := server.LoadConfig(nil)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := server.NewLogger(cfg)

	store, err := storage.Open(cfg.DataPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open storage")
	}
	defer store.Close()

	gameServer := server.NewServer(cfg, store, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gameServer.HandleWebSocket)
	mux.HandleFunc("/api/servers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			gameServer.HandleCreateMatch(w, r)
			return
		}
		gameServer.HandleListMatches(w, r)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gameServer.MetricsRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("match server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// Terminate matches first so their final saves land before the
	// storage handle closes.
	gameServer.Shutdown(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("server stopped")
}
