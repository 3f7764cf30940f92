package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EPX-PANCA/zenmius/internal/platform"
	"github.com/EPX-PANCA/zenmius/internal/server"
)

func main() {
	logger := log.New(os.Stdout, "[zenmiusd] ", log.LstdFlags)

	if err := platform.DisableCoreDumps(); err != nil {
		logger.Printf("warning: could not disable core dumps: %v", err)
	}

	cfg := server.FromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srv, err := server.New(ctx, cfg)
	cancel()
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	if err := srv.Close(shutCtx); err != nil {
		logger.Printf("close: %v", err)
	}
}
