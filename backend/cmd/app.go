package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	httpServer "github.com/vashchuk/roomdrop/backend/server/http"
	websocketServer "github.com/vashchuk/roomdrop/backend/server/websocket"
	"github.com/vashchuk/roomdrop/backend/service"
	store "github.com/vashchuk/roomdrop/backend/storage/memory"
	sw "github.com/vashchuk/roomdrop/backend/switch"
	"github.com/vashchuk/roomdrop/backend/transfer"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket relay listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		maxFrameSize  = fs.Int64("max-frame-size", 0, "websocket frame size limit in bytes (0 means default)")
		transferTTL   = fs.Duration("transfer-ttl", 10*time.Minute, "evict incomplete file transfers idle longer than this (0 disables)")
		transferSweep = fs.Duration("transfer-sweep-interval", time.Minute, "how often to look for idle file transfers")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	memStore := store.NewMemStore()
	buffer := transfer.NewBuffer(transfer.Config{
		Logger:        &logger,
		TTL:           *transferTTL,
		SweepInterval: *transferSweep,
	})
	svc := service.NewService(service.Config{
		RoomStore:   memStore,
		Dispatcher:  sw.NewSwitch(&logger),
		ChunkBuffer: buffer,
		Logger:      &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Presence:   memStore,
		Transfers:  buffer,
		ListenAddr: *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:       &logger,
		RelayService: svc,
		ListenAddr:   *wsListenAddr,
		MaxFrameSize: *maxFrameSize,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)
	go buffer.Run(ctx, wg)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
