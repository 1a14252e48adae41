package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"facepresence/internal/api"
	"facepresence/internal/attendance"
	"facepresence/internal/auth"
	"facepresence/internal/camera"
	"facepresence/internal/cloudinary"
	"facepresence/internal/config"
	"facepresence/internal/detector"
	"facepresence/internal/queue"
	"facepresence/internal/session"
	"facepresence/internal/store"
	"facepresence/internal/submit"
	"facepresence/internal/verify"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Warn("db not reachable", zap.Error(err))
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "facepresence:records")
	}

	repo := attendance.NewRepository(db.Client)

	// Cloudinary client (nil when not configured); the submitter degrades
	// to records without an image reference.
	var uploader submit.Uploader
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("cloudinary not configured, captures will have no image reference")
	}

	det := detector.New(cfg.DetectorURL, cfg.DetectorSkip)
	verifier := verify.New(cfg.VerifyURL, cfg.VerifySkip)
	submitter := submit.New(verifier, uploader, repo, q, logger)

	manager := session.NewManager()
	policy := session.ParsePolicy(cfg.TriggerPolicy)

	factory := func(id auth.Identity) *session.Session {
		var src camera.Source
		if cfg.CameraMock {
			src = camera.NewSyntheticSource(camera.DefaultConstraints)
		} else {
			src = camera.NewSnapshotSource(cfg.CameraURL, camera.DefaultConstraints)
		}
		return session.New(session.Config{
			ID:           uuid.NewString(),
			Identity:     id,
			Source:       src,
			Extractor:    det,
			Submitter:    submitter,
			Policy:       policy,
			PollInterval: cfg.PollInterval,
			DwellDelay:   cfg.DwellDelay,
			Logger:       logger,
		})
	}

	server := api.NewServer(cfg, manager, factory, repo, db, redisClient, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("policy", string(policy)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Stop accepting requests, then tear down live camera sessions.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	manager.CloseAll()

	logger.Info("server exited")
	return nil
}
