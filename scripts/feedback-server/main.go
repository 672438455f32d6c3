// Stand-in feedback service for running the load test locally:
//
//	go run ./scripts/feedback-server -addr :8000
//	feedbackload run
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/feedbackload/internal/feedback"
	"github.com/wesleyorama2/feedbackload/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	latency := flag.Duration("latency", 0, "extra latency added to every accepted request")
	debug := flag.Bool("debug", false, "log every request")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	logger, err := logging.New(level, *debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	server := &http.Server{
		Addr:              *addr,
		Handler:           feedback.NewStubHandler(feedback.StubOptions{Latency: *latency, Logger: logger}),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	logger.Info("starting feedback stub",
		zap.String("addr", *addr),
		zap.String("endpoint", "POST "+feedback.Path),
		zap.Duration("latency", *latency))

	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
