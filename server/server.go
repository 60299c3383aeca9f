package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"VizFM/cache"
	"VizFM/config"
	"VizFM/core/audio"
	"VizFM/core/capture"
	"VizFM/core/dsp"
	"VizFM/core/export"
	"VizFM/core/player"
	"VizFM/core/session"
	"VizFM/core/visual"
	"VizFM/db"
	"VizFM/logger"
	"VizFM/model"
	"VizFM/repository"
	"VizFM/storage"
)

// Start assembles the pipeline and runs the HTTP server until SIGINT/SIGTERM.
func Start() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	})

	sess, manager, err := BuildPipeline(cfg)
	if err != nil {
		logger.Fatal("failed to build render pipeline", logger.ErrorField(err))
	}

	// optional infrastructure: each layer degrades to a no-op when absent
	var repo repository.ExportRepository
	if cfg.DBHost != "" {
		if err := db.ConnectGormDB(cfg); err != nil {
			logger.Fatal("failed to connect to database", logger.ErrorField(err))
		}
		defer db.CloseGormDB()
		repo, err = repository.NewGormExportRepository()
		if err != nil {
			logger.Fatal("failed to initialize export repository", logger.ErrorField(err))
		}
	}
	if cfg.RedisHost != "" {
		if err := db.ConnectRedis(cfg); err != nil {
			logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
		}
		defer db.CloseRedis()
	}
	if cfg.MinioEndpoint != "" {
		if err := storage.InitMinio(cfg); err != nil {
			logger.Fatal("failed to initialize MinIO", logger.ErrorField(err))
		}
	}

	hub := NewStatusHub()
	manager.SetNotify(func(job *export.Job) {
		notifyStatus(cfg, hub, repo, job)
	})

	// jobs and playback streams run on this context, cancelled only at
	// shutdown; request contexts are too short-lived to carry them
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	handler := NewAPIHandler(baseCtx, cfg, sess, manager, repo, hub)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // artifact downloads can be large
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", logger.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", logger.ErrorField(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sess.StopPlayback()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", logger.ErrorField(err))
	}
}

// BuildPipeline wires the session and export manager from configuration.
// Shared with the offline render command.
func BuildPipeline(cfg *config.Config) (*session.Session, *export.Manager, error) {
	decoder := audio.NewFFmpegDecoder(cfg.FFmpegPath, cfg.TempDir)

	analyzer, err := dsp.NewAnalyzer(decoder, cfg.FFTWindowSize)
	if err != nil {
		return nil, nil, err
	}

	effect, err := visual.NewDistortionEffect(visual.DefaultDistortionParams(cfg.AccentColor))
	if err != nil {
		// a bad effect configuration is fatal to the session, like a
		// failed shader compile
		return nil, nil, err
	}

	pipeline := visual.NewPipeline(effect, cfg.OutputWidth)
	overlay := visual.NewOverlay(cfg.OverlaySections)
	clock := player.NewClock(cfg.DisplayFPS)
	sess := session.New(analyzer, pipeline, overlay, clock)

	recorder := capture.NewRecorder(capture.Config{
		CaptureFPS: cfg.CaptureFPS,
		MinBytes:   int64(cfg.MinRecordingKB) * 1024,
	}, func() (capture.ChunkMuxer, error) {
		return capture.NewFFmpegMuxer(cfg.FFmpegPath, cfg.TempDir, cfg.ChunkSeconds, cfg.ExportBitrate), nil
	})

	manager := export.NewManager(recorder, func() (export.Engine, error) {
		return export.NewFFmpegEngine(cfg.FFmpegPath, cfg.TempDir), nil
	}, cfg.ArtifactFilename)

	sess.SetBusyCheck(func() bool { return manager.Active() != nil })
	return sess, manager, nil
}

// notifyStatus fans a job change out to the websocket hub, the Redis cache,
// the history repository, and the artifact archive.
func notifyStatus(cfg *config.Config, hub *StatusHub, repo repository.ExportRepository, job *export.Job) {
	msg := StatusMessage{
		Status:   job.StatusText(),
		State:    job.State(),
		JobID:    job.ID,
		Progress: job.Progress(),
	}
	if err := job.Err(); err != nil {
		msg.Error = export.MapErrorMessage(err)
	}
	hub.Broadcast(msg)

	cache.SetJobStatus(cache.JobStatus{
		JobID:      job.ID,
		State:      job.State(),
		StatusText: job.StatusText(),
		Progress:   job.Progress(),
		Error:      msg.Error,
	})

	if repo != nil {
		if err := repo.Upsert(job.Record()); err != nil {
			logger.Warn("failed to persist export record",
				logger.String("jobId", job.ID),
				logger.ErrorField(err))
		}
	}

	if job.State() == model.ExportStateDone {
		if art := job.Artifact(); art != nil && storage.Enabled() {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				if err := storage.ArchiveArtifact(ctx, cfg, job.ID, art.Filename, art.MIMEType, art.Data); err != nil {
					logger.Warn("artifact archive failed",
						logger.String("jobId", job.ID),
						logger.ErrorField(err))
				}
			}()
		}
	}
}
