package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/coaching"
	"livecoach-server/pkg/database"
	http_server "livecoach-server/pkg/http"
	"livecoach-server/pkg/llm"
	"livecoach-server/pkg/messaging"
	"livecoach-server/pkg/metrics"
	"livecoach-server/pkg/session"
	"livecoach-server/pkg/stt"
	"livecoach-server/pkg/util"
)

var (
	logger = logrus.New()

	appConfig  *util.Configuration
	llmClient  *llm.OpenAIClient
	sttManager *stt.Manager
	bridge     *stt.Bridge
	engine     *coaching.Engine
	dbRepo     *database.Repository
	sessions   *session.Store
	publisher  messaging.Publisher
	wsHub      *http_server.LiveHub
	httpServer *http_server.Server
)

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	var err error
	appConfig, err = util.LoadConfig(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(appConfig.LogLevel)

	metrics.Init(logger)

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize server")
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Start()
	}()

	select {
	case sig := <-shutdownChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}

	shutdown()
}

func initialize() error {
	// Language model client
	llmClient = llm.NewOpenAIClient(logger, &llm.ClientConfig{
		Model:   appConfig.LLMModel,
		Timeout: appConfig.LLMTimeout,
	})
	if err := llmClient.Initialize(); err != nil {
		return err
	}

	// Persistence is optional; without a DSN reports are fan-out only
	var store coaching.ReportStore
	if appConfig.DatabaseEnabled {
		repo, err := database.NewRepository(logger, appConfig.DatabaseDSN)
		if err != nil {
			return err
		}
		dbRepo = repo
		store = repo
	} else {
		logger.Warn("DATABASE_DSN not set, feedback reports will not be persisted")
	}

	// Event fan-out: websocket hub always, AMQP when configured
	wsHub = http_server.NewLiveHub(logger)
	if appConfig.AMQPUrl != "" {
		amqpPub := messaging.NewAMQPPublisher(logger, messaging.AMQPConfig{
			URL:          appConfig.AMQPUrl,
			ExchangeName: appConfig.AMQPExchange,
		})
		if err := amqpPub.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable, continuing with websocket fan-out only")
			publisher = wsHub
		} else {
			publisher = messaging.NewMultiPublisher(amqpPub, wsHub)
		}
	} else {
		publisher = wsHub
	}

	// Session registry with idle eviction
	sessions = session.NewStore(logger, appConfig.SessionIdleTimeout, func(entry session.Entry) {
		go engine.FinalizeEvicted(entry)
	})
	sessions.StartJanitor(time.Minute)

	reports := coaching.NewReportCompiler(llmClient, store, logger,
		appConfig.ShortCallThreshold, appConfig.ReconciliationWindow, appConfig.ReconciliationSlack)

	engine = coaching.NewEngine(logger, coaching.EngineConfig{
		TipMinInterval:     appConfig.TipMinInterval,
		LLMTimeout:         appConfig.LLMTimeout,
		DefaultVendor:      appConfig.DefaultVendor,
		MaxConcurrentCalls: appConfig.MaxConcurrentCalls,
	}, sessions, llmClient, publisher, reports)

	// Speech providers; registration failures disable the vendor, not the server
	sttManager = stt.NewManager(logger, appConfig.DefaultVendor)
	for _, vendor := range appConfig.SupportedVendors {
		provider := providerFor(vendor)
		if provider == nil {
			logger.WithField("vendor", vendor).Warn("Unknown speech vendor in configuration")
			continue
		}
		_ = sttManager.Register(provider)
	}
	bridge = stt.NewBridge(sttManager, logger)
	engine.SetBridge(bridge)

	httpServer = http_server.NewServer(logger, http_server.ServerConfig{
		Port:          appConfig.HTTPPort,
		EnableMetrics: appConfig.HTTPEnableMetrics,
	}, engine, wsHub, sessions)

	return nil
}

func providerFor(vendor string) stt.Provider {
	onEvent := func(ev stt.TranscriptEvent) { engine.HandleTranscript(ev) }
	onError := func(callID string, err error) { engine.HandleStreamError(callID, err) }

	switch vendor {
	case "deepgram":
		return stt.NewDeepgramProvider(logger, stt.DeepgramConfig{
			SampleRate:    appConfig.SampleRate,
			EndpointingMs: appConfig.EndpointingMs,
			Interim:       appConfig.InterimResults,
		}, onEvent, onError)
	case "google":
		return stt.NewGoogleProvider(logger, appConfig.SampleRate, appConfig.InterimResults, onEvent, onError)
	case "amazon":
		return stt.NewAmazonProvider(logger, appConfig.SampleRate, onEvent, onError)
	case "mock":
		return stt.NewMockProvider(logger, onEvent)
	default:
		return nil
	}
}

func shutdown() {
	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("HTTP server shutdown failed")
		}
	}

	// Active calls are stopped so every session is reconciled, reported
	// and persisted before the publisher and database go away
	if engine != nil && sessions != nil {
		sessions.Stop()
		var callIDs []string
		sessions.Range(func(entry session.Entry) bool {
			callIDs = append(callIDs, entry.SessionID())
			return true
		})
		for _, callID := range callIDs {
			if _, err := engine.StopCall(ctx, callID); err != nil {
				logger.WithFields(logrus.Fields{
					"call_id": callID,
					"error":   err,
				}).Warn("Failed to finalize call during shutdown")
			}
		}
	}

	if publisher != nil {
		_ = publisher.Close()
	}
	if dbRepo != nil {
		_ = dbRepo.Close()
	}
	logger.Info("Shutdown complete")
}
