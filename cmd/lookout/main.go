package main

import (
	"strings"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub008/internal/handlers"
	"github.com/zackbabin/dub-analysis-tool-sub008/internal/identity"
	"github.com/zackbabin/dub-analysis-tool-sub008/internal/reshape"
	"github.com/zackbabin/dub-analysis-tool-sub008/internal/syncer"
	"github.com/zackbabin/dub-analysis-tool-sub008/internal/warehouse"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/clients/deskpro"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/clients/mixpanel"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/config"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/database"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/kafka"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/logging"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/monitoring"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/server"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("lookout")

	config.LoadEnv(logger)

	logger.Info("Starting Lookout (Analytics Sync Pipeline)")

	databaseURL := config.RequireEnv("DATABASE_URL")
	mixpanelUser := config.RequireEnv("MIXPANEL_SERVICE_ACCOUNT")
	mixpanelSecret := config.RequireEnv("MIXPANEL_SECRET")
	mixpanelProject := config.RequireEnv("MIXPANEL_PROJECT_ID")
	mixpanelBase := config.GetEnv("MIXPANEL_BASE_URL", "https://mixpanel.com")
	deskBase := config.RequireEnv("HELPDESK_BASE_URL")
	deskToken := config.RequireEnv("HELPDESK_API_TOKEN")

	// Connect to the warehouse
	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("lookout", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("lookout", version.Version, version.GitCommit)

	runs, duration, rows, sourceRequests := metricsCollector.CreateSyncMetrics()
	syncMetrics := &syncer.Metrics{Runs: runs, Duration: duration, Rows: rows, SourceRequests: sourceRequests}

	// Source clients
	mixpanelClient := mixpanel.NewClient(mixpanel.Config{
		BaseURL:       mixpanelBase,
		Username:      mixpanelUser,
		Secret:        mixpanelSecret,
		ProjectID:     mixpanelProject,
		MaxConcurrent: int64(config.GetEnvInt("MIXPANEL_MAX_CONCURRENT", 5)),
		RetryAttempts: config.GetEnvInt("MIXPANEL_RETRY_ATTEMPTS", 3),
		RetryDelay:    config.GetEnvDuration("MIXPANEL_RETRY_DELAY", 2*time.Second),
		Logger:        logger,
	})
	deskClient := deskpro.NewClient(deskpro.Config{
		BaseURL:  deskBase,
		APIToken: deskToken,
		PageSize: config.GetEnvInt("HELPDESK_PAGE_SIZE", 100),
		Logger:   logger,
	})

	// Optional rollup trigger
	var rollups syncer.RollupEnqueuer
	var producer *kafka.Producer
	if brokersEnv := config.GetEnv("KAFKA_BROKERS", ""); brokersEnv != "" {
		var err error
		producer, err = kafka.NewProducer(strings.Split(brokersEnv, ","), "lookout", logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		rollups = producer
	} else {
		logger.Info("KAFKA_BROKERS not set; rollup triggering disabled")
	}

	// Reshaping engine
	normalizer := identity.MustNewNormalizer(identity.DefaultDuplicateCreators)
	pairReshaper := reshape.NewPairReshaper(normalizer, logger)
	funnelReshaper := reshape.NewFunnelReshaper(logger)

	// Warehouse driver and attempt log
	driver := warehouse.NewDriver(db, logger)
	attempts := warehouse.NewAttemptStore(db)

	syncService := syncer.New(
		syncer.Config{
			Window:    config.GetEnvDuration("SYNC_WINDOW", 30*24*time.Hour),
			RunBudget: config.GetEnvDuration("SYNC_RUN_BUDGET", 5*time.Minute),
			Funnels: map[string]int{
				"activation": config.GetEnvInt("FUNNEL_ID_ACTIVATION", 0),
				"first_copy": config.GetEnvInt("FUNNEL_ID_FIRST_COPY", 0),
			},
		},
		mixpanelClient,
		deskClient,
		driver,
		attempts,
		rollups,
		pairReshaper,
		funnelReshaper,
		logger,
		syncMetrics,
	)

	// Health checks
	healthChecker.AddCheck("warehouse", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("mixpanel", monitoring.HTTPServiceHealthCheck("mixpanel", mixpanelBase))
	if producer != nil {
		healthChecker.AddCheck("rollup_broker", monitoring.PingHealthCheck("kafka", producer.Ping))
	}
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":        databaseURL,
		"MIXPANEL_PROJECT_ID": mixpanelProject,
		"HELPDESK_BASE_URL":   deskBase,
	}))

	// HTTP surface
	router := server.SetupRouter(logger, "lookout")
	router.Use(metricsCollector.MetricsMiddleware())
	router.GET("/healthz", healthChecker.Handler())
	router.GET("/metrics", metricsCollector.Handler())

	handlers.New(syncService, logger).RegisterRoutes(router)

	srvConfig := server.DefaultConfig("lookout", "18090")
	if err := server.Start(srvConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
}
