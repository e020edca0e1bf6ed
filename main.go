package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Tutortoise/facial-attribute-service/config"
	"github.com/Tutortoise/facial-attribute-service/detections"
	"github.com/Tutortoise/facial-attribute-service/logging"
	"github.com/Tutortoise/facial-attribute-service/models"
	"github.com/Tutortoise/facial-attribute-service/pipeline"
	"github.com/Tutortoise/facial-attribute-service/publish"
	"github.com/Tutortoise/facial-attribute-service/render"
	"github.com/Tutortoise/facial-attribute-service/source"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "facial-attribute-service: %v\n", err)
		os.Exit(1)
	}
}

// initSession returns the loader the pipeline calls on the first admitted
// frame. Loading is deferred so startup does not pay for the model.
func initSession(cfg detections.SessionConfig, log logrus.FieldLogger) pipeline.EngineLoader {
	return func() (detections.Engine, error) {
		start := time.Now()
		session, err := detections.NewModelSession(cfg)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"model":       filepath.Base(cfg.ModelPath),
			"accelerator": cfg.Accelerator,
			"input":       session.InputName,
			"shape":       session.InputShape(),
			"outputs":     session.OutputNames,
			"load_time":   time.Since(start),
		}).Info("model session created")
		return session, nil
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Env:   cfg.AppEnv,
		Dir:   cfg.LogDir,
		Level: cfg.LogLevel,
		Debug: cfg.Debug,
	})
	if err != nil {
		return err
	}

	cpu := detections.DetectCPUFeatures()
	logger.WithFields(logrus.Fields{
		"arch":    cpu.Arch,
		"num_cpu": cpu.NumCPU,
		"avx512":  cpu.AVX512,
		"avx2":    cpu.AVX2,
		"sse41":   cpu.SSE41,
		"asimd":   cpu.ASIMD,
		"fma":     cpu.FMA,
	}).Info("cpu features")

	modelPath, err := filepath.Abs(filepath.Clean(cfg.ModelPath))
	if err != nil {
		return fmt.Errorf("failed to get absolute path for model: %w", err)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("model file not found: %w", err)
	}

	libPath, err := resolveLibrary(cfg.LibPath)
	if err != nil {
		return err
	}
	if err := detections.InitializeRuntime(libPath); err != nil {
		return err
	}
	defer func() {
		if err := detections.DestroyRuntime(); err != nil {
			logger.WithError(err).Warn("failed to destroy onnxruntime environment")
		}
	}()
	logger.WithField("library", libPath).Info("onnxruntime initialized")

	loader := initSession(detections.SessionConfig{
		ModelPath:   modelPath,
		Accelerator: models.Accelerator(cfg.Accelerator),
		DeviceID:    cfg.DeviceID,
	}, logger)

	p := pipeline.New(loader, pipeline.Config{
		EmbeddingOutputs: cfg.EmbeddingOutputs,
		Normalization:    cfg.Normalization(),
		ErrorLogRate:     cfg.ErrorLogRate,
		Logger:           logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	workers, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var wg sync.WaitGroup
	goRun := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(workers)
		}()
	}

	hub := render.NewHub(logger)
	consumers := []render.Consumer{hub}

	var mirror *publish.Redis
	if cfg.RedisEnabled() {
		redisOpts := publish.Options{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
			TTL:      cfg.RedisTTL,
		}
		client, err := publish.Connect(ctx, redisOpts)
		if err != nil {
			logger.WithError(err).Error("redis mirror disabled")
		} else {
			defer closeRedis(client, logger)
			mirror = publish.NewRedis(client, redisOpts, logger)
			consumers = append(consumers, mirror)
			goRun(mirror.Run)
			logger.WithField("key", cfg.RedisKey).Info("redis mirror enabled")
		}
	}

	renderLoop := render.NewLoop(p, cfg.RenderInterval, logger, consumers...)
	dispatcher := pipeline.NewDispatcher(p, cfg.DispatchInterval, logger)
	goRun(renderLoop.Run)
	goRun(dispatcher.Run)

	if cfg.FrameDir != "" {
		replay, err := source.NewDirectory(cfg.FrameDir, cfg.FrameInterval, logger)
		if err != nil {
			return err
		}
		goRun(func(ctx context.Context) { replay.Run(ctx, p.OnFrame) })
	}

	ingest := newIngestLimiter(cfg.IngestRate, cfg.IngestBurst)
	goRun(func(ctx context.Context) { ingest.cleanupLoop(ctx, 5*time.Minute) })

	state := &AppState{
		Pipeline:  p,
		Render:    renderLoop,
		Hub:       hub,
		Mirror:    mirror,
		Ingest:    ingest,
		CPU:       cpu,
		Log:       logger,
		StartedAt: time.Now(),
	}

	srv := &http.Server{
		Handler:      state.Router(),
		Addr:         cfg.HTTPAddr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	serveErr := serve(ctx, srv, logger)
	hub.Close()

	// Teardown waits for an in-flight inference through the engine lock.
	if err := p.Teardown(); err != nil {
		logger.WithError(err).Error("pipeline teardown")
	}
	cancelWorkers()
	wg.Wait()

	if serveErr != nil {
		logging.ErrorWithTraceID(logger, logging.Fields{"error": serveErr.Error()}, "http server failed")
		return serveErr
	}
	logger.Info("server stopped")
	return nil
}

// serve runs srv until ctx is done or the listener fails, then shuts it
// down. A listener failure is returned.
func serve(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	listenErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", srv.Addr)
		listenErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err = <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("http server shutdown")
	}

	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func closeRedis(client *redis.Client, log logrus.FieldLogger) {
	if err := client.Close(); err != nil {
		log.WithError(err).Warn("failed to close redis client")
	}
}
