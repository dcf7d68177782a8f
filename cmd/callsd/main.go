package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zenith-app/calls/internal/adapters/httpapi"
	"github.com/zenith-app/calls/internal/call"
	"github.com/zenith-app/calls/internal/config"
	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/media"
	"github.com/zenith-app/calls/internal/session"
	"github.com/zenith-app/calls/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	var (
		signaling core.SignalingStore
		records   core.CallRecordStore
	)
	switch cfg.Store {
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal().Err(err).Msg("mongo connect")
		}
		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn().Err(err).Msg("mongo disconnect")
			}
		}()
		db := client.Database(cfg.MongoDB)
		signaling = store.NewMongoStore(db, store.WithMongoEmptyTTL(cfg.SessionTTL))
		records = store.NewMongoCallRecords(db)
	default:
		signaling = store.NewMemoryStore(store.WithEmptyTTL(cfg.SessionTTL))
		records = store.NewMemoryCallRecords()
	}

	var source core.MediaSource
	if cfg.MediaSource == "static" {
		source = media.NewStaticSource()
	} else {
		source = media.NewDeviceSource()
	}

	sink, err := media.NewOggSink(cfg.SinkDir)
	if err != nil {
		log.Fatal().Err(err).Msg("audio sink")
	}
	defer sink.Close()

	mgr, err := call.NewManager(signaling, source, sink, call.Config{
		STUNServers: cfg.STUNServers,
		Capture: core.CaptureConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			Mono:             cfg.MicMono,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("call manager")
	}
	go mgr.Run(ctx)

	lifecycle := session.NewLifecycle(signaling, mgr)
	personal := session.NewPersonalCalls(records, mgr, session.WithRingTimeout(cfg.RingTimeout))

	r := httpapi.SetupRouter(ctx, cfg, mgr, lifecycle, personal)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Store).Msg("calls server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	mgr.LeaveCall()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
