package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"fleettrack/internal/api/router"
	"fleettrack/internal/cache"
	"fleettrack/internal/config"
	"fleettrack/internal/core/repository"
	"fleettrack/internal/core/service"
	"fleettrack/internal/protocol/jt808"
	"fleettrack/internal/protocol/server"
	"fleettrack/internal/session"
	"fleettrack/internal/storage"
)

func main() {
	cfg := config.LoadConfig()
	setupLogging(cfg.LogLevel)

	jt808.SetProtocolZone(cfg.Protocol.TimezoneOffset)

	// Storage backends: MongoDB when configured, in-memory otherwise.
	var db *mongo.Database
	mongoConfig := config.NewMongoConfig()
	if mongoConfig.URI != "" {
		var err error
		db, err = config.ConnectMongoDB(mongoConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to MongoDB")
		}
	} else {
		log.Warn().Msg("MongoDB URI not provided, using in-memory repositories")
	}

	var (
		deviceRepo   repository.DeviceRepository
		positionRepo repository.PositionRepository
		mediaRepo    repository.MediaRepository
	)
	if db != nil {
		deviceRepo = repository.NewMongoDeviceRepository(db)
		positionRepo = repository.NewMongoPositionRepository(db)
		mediaRepo = repository.NewMongoMediaRepository(db)
	} else {
		deviceRepo = repository.NewInMemoryDeviceRepository()
		positionRepo = repository.NewInMemoryPositionRepository()
		mediaRepo = repository.NewInMemoryMediaRepository()
	}

	cache.Initialize(cfg.RedisURL)
	defer cache.Close()

	deviceService := service.NewDeviceService(deviceRepo)
	positionService := service.NewPositionService(positionRepo, deviceRepo)
	mediaService := service.NewMediaService(mediaRepo)

	files, err := storage.NewFileStore(cfg.Media.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open media store")
	}

	// Protocol pipeline: shared tracker and media store, per-connection
	// dispatch state.
	registry := session.NewRegistry(deviceService, cfg.Protocol.ShortIndexModels, cfg.Protocol.AltOilModels)
	tracker := jt808.NewCorrelationTracker()
	mediaStore := jt808.NewMediaStore(files, mediaService, tracker)
	callback := jt808.CallbackServer{
		Host:    cfg.Callback.Host,
		TCPPort: cfg.Callback.TCPPort,
		UDPPort: cfg.Callback.UDPPort,
	}
	locationDecoder := jt808.NewLocationDecoder(tracker, callback, cfg.Protocol.MultimediaEventShim)
	dispatcher := jt808.NewDispatcher(registry, positionService, mediaStore, tracker, locationDecoder)

	sweepAge := time.Duration(cfg.Protocol.SweepMinutes) * time.Minute
	tcpServer := server.NewTCPServer(cfg.TCP.Port, dispatcher, registry, mediaStore, tracker, sweepAge)
	if err := tcpServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start TCP server")
	}
	defer tcpServer.Stop()

	r := router.NewRouter(cfg, deviceService, positionService, mediaService, files, tcpServer)

	addr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	httpServer := &http.Server{Addr: addr, Handler: r}
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")
	httpServer.Close()
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
