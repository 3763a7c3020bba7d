package main

import (
	"context"
	"strings"
	"time"

	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/rpc"
	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/internal/stats"
	"github.com/cpopescu/streamgraph/pkg/config"
	"github.com/cpopescu/streamgraph/pkg/kafka"
	"github.com/cpopescu/streamgraph/pkg/logging"
	"github.com/cpopescu/streamgraph/pkg/monitoring"
	pkgredis "github.com/cpopescu/streamgraph/pkg/redis"
	"github.com/cpopescu/streamgraph/pkg/server"
	"github.com/cpopescu/streamgraph/pkg/version"
)

const serviceName = "streamgraphd"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	logger.Info("Starting streamgraphd")

	mapper := graph.NewMapper()
	lp := loop.New()
	go lp.Run()
	defer lp.Stop()

	keeper := buildKeeper(logger)
	collector := stats.New(
		config.GetEnv("SERVER_ID", serviceName),
		int64(config.GetEnvInt("SERVER_INSTANCE", 0)),
		buildStatsSavers(logger),
		logger,
	)
	collector.Start()
	defer collector.Stop()

	resolveBackend := rpc.NewMemoryResolveBackend()
	rpcServer := rpc.NewServer(mapper, lp, keeper, logger, collector, resolveBackend)

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)
	healthChecker.AddCheck("loop", func() monitoring.CheckResult {
		return monitoring.CheckResult{Status: monitoring.StatusHealthy, Message: "event loop running"}
	})

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	rpcServer.RegisterRoutes(router)

	serverCfg := server.DefaultConfig(serviceName, "8080")
	if err := server.Start(serverCfg, router, logger); err != nil {
		logger.WithError(err).Fatal("server exited with error")
	}
}

// buildKeeper wires a Redis-backed state keeper when REDIS_ADDRS is set,
// falling back to an in-memory keeper (no persistence across restarts,
// fine for a single-node dev deployment) otherwise.
func buildKeeper(logger logging.Logger) statekeeper.Keeper {
	addrs := config.GetEnv("REDIS_ADDRS", "")
	if addrs == "" {
		logger.Info("REDIS_ADDRS not set, using in-memory state keeper")
		return statekeeper.NewMemory()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := pkgredis.NewUniversalClient(ctx, pkgredis.Config{
		Mode:     pkgredis.Mode(config.GetEnv("REDIS_MODE", string(pkgredis.ModeSingle))),
		Addrs:    strings.Split(addrs, ","),
		Username: config.GetEnv("REDIS_USERNAME", ""),
		Password: config.GetEnv("REDIS_PASSWORD", ""),
		DB:       config.GetEnvInt("REDIS_DB", 0),
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	return statekeeper.NewRedis(client, logger)
}

// buildStatsSavers wires a Kafka sink when KAFKA_BROKERS is set, in
// addition to the always-on log sink so events remain visible even
// when the broker connection is flaky.
func buildStatsSavers(logger logging.Logger) []stats.StatsSaver {
	savers := []stats.StatsSaver{stats.NewLogSink(logger)}

	brokers := config.GetEnv("KAFKA_BROKERS", "")
	if brokers == "" {
		return savers
	}

	producer, err := kafka.NewKafkaProducer(strings.Split(brokers, ","), config.GetEnv("KAFKA_CLUSTER_ID", serviceName), logger)
	if err != nil {
		logger.WithError(err).Warn("failed to connect to kafka, stats will only be logged")
		return savers
	}
	topic := config.GetEnv("KAFKA_STATS_TOPIC", "streamgraph.stats")
	return append(savers, stats.NewKafkaSink(producer, topic, logger))
}
