package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"textcat-backend/cmd"
	"textcat-backend/internal/api"
	"textcat-backend/internal/config"
	"textcat-backend/internal/database"
	"textcat-backend/internal/dataset"
	"textcat-backend/internal/glue"
	"textcat-backend/internal/inference"
	"textcat-backend/internal/messaging"
	"textcat-backend/internal/pipeline"
	"textcat-backend/internal/s3"
	"textcat-backend/internal/sagemaker"

	awsglue "github.com/aws/aws-sdk-go-v2/service/glue"
	awssagemaker "github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root string `env:"ROOT" envDefault:"./textcat"`
	Port int    `env:"PORT" envDefault:"3001"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "textcat.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue re-enqueues runs that were queued when the last process
// exited, so a restart picks up where it left off.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var queuedRuns []database.PipelineRun
	if err := db.Where("status = ?", database.RunQueued).Find(&queuedRuns).Error; err != nil {
		log.Fatalf("Failed to fetch queued runs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, run := range queuedRuns {
		if err := queue.PublishPipelineRunTask(context.Background(), messaging.PipelineRunPayload{
			RunId: run.Id,
		}); err != nil {
			log.Fatalf("Failed to publish pipeline run task: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, queue messaging.Publisher, runtime pipeline.Predictor, port int) *http.Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},                                       // Allow all origins (TODO: make this an env var)
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}, // Allow all HTTP methods
		AllowedHeaders:   []string{"*"},                                       // Allow all headers
		ExposedHeaders:   []string{"*"},                                       // Expose all headers
		AllowCredentials: true,                                                // Allow cookies/auth headers
		MaxAge:           300,                                                 // Cache preflight response for 5 minutes
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)                    // Log requests
	r.Use(middleware.Recoverer)                 // Recover from panics
	r.Use(middleware.Timeout(60 * time.Second)) // Set request timeout

	apiHandler := api.NewBackendService(db, queue, runtime)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	pipelineCfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load pipeline configuration: %v", err)
	}

	db := createDatabase(cfg.Root)

	s3Client, err := s3.NewS3Client(&s3.Config{
		S3EndpointURL:     pipelineCfg.AWSEndpointURL,
		S3AccessKeyID:     pipelineCfg.AWSAccessKeyID,
		S3SecretAccessKey: pipelineCfg.AWSSecretAccessKey,
		S3Region:          pipelineCfg.AWSRegion,
		PipelineBucket:    pipelineCfg.PipelineBucket,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	awsCfg, err := cmd.LoadAwsConfig(context.Background(), pipelineCfg.AWSRegion, pipelineCfg.AWSAccessKeyID, pipelineCfg.AWSSecretAccessKey, pipelineCfg.AWSEndpointURL)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	runtime := inference.NewClient(sagemakerruntime.NewFromConfig(awsCfg))

	orchestrator := pipeline.NewOrchestrator(
		db,
		s3Client,
		dataset.NewStager(s3Client),
		glue.NewService(awsglue.NewFromConfig(awsCfg), pipelineCfg.PollInterval()),
		sagemaker.NewService(awssagemaker.NewFromConfig(awsCfg), pipelineCfg.PollInterval()),
		runtime,
		sts.NewFromConfig(awsCfg),
		pipelineCfg.Settings(),
	)

	queue := createQueue(db)

	worker := pipeline.NewTaskProcessor(orchestrator, queue, queue)

	server := createServer(db, queue, runtime, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
