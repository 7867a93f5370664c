package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"

	"factoryhub/config"
	"factoryhub/internal/fanout"
	inputredis "factoryhub/internal/input/redis"
	"factoryhub/internal/logger"
	"factoryhub/internal/output/eventclickhouse"
	"factoryhub/internal/output/eventhttp"
	"factoryhub/internal/output/eventjson"
	"factoryhub/internal/output/eventredis"
	"factoryhub/internal/output/rawjson"
	"factoryhub/internal/pipeline"
	"factoryhub/internal/progress"
	"factoryhub/internal/rules"
	"factoryhub/internal/server"
	"factoryhub/internal/state"
	"factoryhub/internal/transform/github"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configArg := fs.String("config", "", "Path to factoryhub.yml")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, configPath, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fh := cfg.FactoryHub

	logger.Infof("factoryhub starting")
	logger.Infof("Config loaded from: %s", configPath)
	if fh.Webhook.Secret == "" {
		logger.Warnf("No webhook secret configured; every delivery will be rejected")
	}

	engine, err := buildEngine(fh.Rules)
	if err != nil {
		logger.Errorf("Failed to load rules: %v", err)
		return 1
	}

	writers, names, err := buildWriters(fh.Output)
	if err != nil {
		logger.Errorf("Failed to create output writers: %v", err)
		return 1
	}

	var raw pipeline.RawWriter
	if fh.ReplayCapture.Enabled {
		w, err := rawjson.NewWriter(fh.ReplayCapture.File.Path)
		if err != nil {
			logger.Errorf("Failed to create replay capture writer: %v", err)
			return 1
		}
		raw = w
	}

	hub := fanout.NewHub(fanout.Options{
		Buffer:     fh.Fanout.Buffer,
		WriteWait:  fh.Fanout.WriteWait,
		PongWait:   fh.Fanout.PongWait,
		PingPeriod: fh.Fanout.PingPeriod,
		KeepAlive:  fh.Fanout.KeepAlive,
	})
	store := state.NewStore(state.Options{
		MaxEvents:       fh.State.MaxEvents,
		MaxModules:      fh.State.MaxModules,
		SnapshotModules: fh.State.SnapshotModules,
	})
	pipe := pipeline.New(pipeline.Deps{
		Secret:        fh.Webhook.Secret,
		Normalizer:    github.NewNormalizer(),
		Engine:        engine,
		Store:         store,
		CI:            state.NewCITracker(),
		Hub:           hub,
		Writers:       writers,
		SinkNames:     names,
		Raw:           raw,
		QueueSize:     fh.Pipeline.QueueSize,
		BatchSize:     fh.Pipeline.BatchSize,
		FlushInterval: fh.Pipeline.FlushInterval,
	})

	metricsPath := ""
	if fh.Metrics.On() {
		metricsPath = fh.Metrics.Path
	}
	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(server.Deps{
		Pipeline:     pipe,
		Hub:          hub,
		Progress:     progress.NewStore(fh.Progress.Path, fh.Progress.CacheTTL),
		MaxBodyBytes: fh.Server.MaxBodyBytes,
		MetricsPath:  metricsPath,
		DeploySHA:    fh.Deploy.SHA,
		DeployedAt:   fh.Deploy.DeployedAt,
	})
	srv := &http.Server{Addr: fh.Server.Addr(), Handler: router}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	var source *pipeline.RedisSource
	if fh.Relay.Enabled {
		consumer, err := inputredis.NewConsumer(inputredis.Config{
			Addr:         fh.Relay.Redis.Addr,
			Password:     fh.Relay.Redis.Password,
			DB:           fh.Relay.Redis.DB,
			Key:          fh.Relay.Redis.Key,
			BlockTimeout: fh.Relay.Redis.BlockTimeout,
		})
		if err != nil {
			logger.Errorf("Failed to create Redis relay consumer: %v", err)
			return 1
		}
		if err := consumer.Ping(ctx); err != nil {
			logger.Warnf("Redis relay %s not reachable yet: %v", fh.Relay.Redis.Addr, err)
		}
		source = pipeline.NewRedisSource(consumer, pipe)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Relay source error: %v", err)
			}
		}()
		logger.Infof("Relay input: redis %s key=%s", fh.Relay.Redis.Addr, fh.Relay.Redis.Key)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Listening on http://%s", fh.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case <-sigCh:
		logger.Infof("Shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Errorf("HTTP server failed: %v", err)
			code = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), fh.Server.ShutdownTimeout)
	defer shutdownCancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown: %v", err)
	}

	cancel()
	wg.Wait()

	if source != nil {
		if err := source.Close(); err != nil {
			logger.Errorf("Error closing relay source: %v", err)
		}
	}
	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("factoryhub stopped")
	return code
}

func buildEngine(rc config.RulesConfig) (rules.Engine, error) {
	if !rc.Enabled {
		return &rules.NoopEngine{}, nil
	}
	if strings.TrimSpace(rc.Path) == "" {
		logger.Warnf("Rules enabled but rules.path is empty; rule tagging disabled")
		return &rules.NoopEngine{}, nil
	}

	engine, stats, err := rules.NewSigmaEngine(rc.Path)
	if err != nil {
		return nil, err
	}
	logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
		stats.Loaded,
		stats.SkippedComplex,
		stats.SkippedDatasource,
		stats.SkippedInvalid,
		stats.TotalFiles,
	)
	if stats.Loaded == 0 {
		logger.Warnf("No compatible Sigma rules loaded; rule tagging is effectively disabled")
	}
	return engine, nil
}

func buildWriters(oc config.OutputConfig) ([]pipeline.EventWriter, []string, error) {
	var writers []pipeline.EventWriter
	var names []string

	closeAll := func() {
		for _, w := range writers {
			w.Close()
		}
	}

	for _, raw := range oc.Modes {
		mode := strings.ToLower(strings.TrimSpace(raw))
		var w pipeline.EventWriter
		var err error

		switch mode {
		case "", "none":
			continue
		case "file":
			w, err = eventjson.NewWriter(oc.File.Path, oc.File.Truncate)
		case "http":
			w, err = eventhttp.NewWriter(eventhttp.Config{
				URL:          oc.HTTP.URL,
				Headers:      oc.HTTP.Headers,
				Timeout:      oc.HTTP.Timeout,
				Secret:       oc.HTTP.Secret,
				Retries:      oc.HTTP.Retries,
				RetryBackoff: oc.HTTP.RetryBackoff,
			})
		case "redis":
			w, err = eventredis.NewWriter(eventredis.Config{
				Addr:     oc.Redis.Addr,
				Password: oc.Redis.Password,
				DB:       oc.Redis.DB,
				Key:      oc.Redis.Key,
				MaxLen:   oc.Redis.MaxLen,
			})
		case "clickhouse":
			w, err = eventclickhouse.NewWriter(eventclickhouse.Config{
				URL:      oc.ClickHouse.URL,
				Database: oc.ClickHouse.Database,
				Table:    oc.ClickHouse.Table,
				Username: oc.ClickHouse.Username,
				Password: oc.ClickHouse.Password,
				Timeout:  oc.ClickHouse.Timeout,
				Headers:  oc.ClickHouse.Headers,
			})
		default:
			err = fmt.Errorf("unknown output mode %q", raw)
		}
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s output: %w", mode, err)
		}
		writers = append(writers, w)
		names = append(names, mode)
		logger.Infof("Output mode: %s", mode)
	}
	return writers, names, nil
}
