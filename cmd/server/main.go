package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-chat-relay/internal/api"
	"github.com/npezzotti/go-chat-relay/internal/config"
	"github.com/npezzotti/go-chat-relay/internal/relay"
	"github.com/npezzotti/go-chat-relay/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:3001", "server address")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[chat-relay] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	registry := relay.NewRegistry()

	relayServer, err := relay.NewServer(logger, registry, statsUpdater)
	if err != nil {
		logger.Fatal("new relay server:", err)
	}

	srv := api.NewRelayApp(mux, logger, relayServer, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go relayServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down relay server...")
	if err := relayServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("relay server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
