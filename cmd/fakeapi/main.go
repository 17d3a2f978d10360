package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/machinat/sociably-sub013/internal/platform/messenger"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	token := flag.String("token", os.Getenv("SOCIABLY_PLATFORM_TOKEN"), "access token to require (empty accepts any)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           &messenger.FakeAPI{Token: *token, Logger: logger},
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Fake platform API starting", "address", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
