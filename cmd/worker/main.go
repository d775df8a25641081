package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"textcat-backend/cmd"
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
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize S3 Client
	s3Client, err := s3.NewS3Client(&s3.Config{
		S3EndpointURL:     cfg.AWSEndpointURL,
		S3AccessKeyID:     cfg.AWSAccessKeyID,
		S3SecretAccessKey: cfg.AWSSecretAccessKey,
		S3Region:          cfg.AWSRegion,
		PipelineBucket:    cfg.PipelineBucket,
	})
	if err != nil {
		log.Fatalf("Worker: Failed to create S3 client: %v", err)
	}

	awsCfg, err := cmd.LoadAwsConfig(context.Background(), cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSEndpointURL)
	if err != nil {
		log.Fatalf("Worker: Failed to load AWS config: %v", err)
	}

	orchestrator := pipeline.NewOrchestrator(
		db,
		s3Client,
		dataset.NewStager(s3Client),
		glue.NewService(awsglue.NewFromConfig(awsCfg), cfg.PollInterval()),
		sagemaker.NewService(awssagemaker.NewFromConfig(awsCfg), cfg.PollInterval()),
		inference.NewClient(sagemakerruntime.NewFromConfig(awsCfg)),
		sts.NewFromConfig(awsCfg),
		cfg.Settings(),
	)

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := pipeline.NewTaskProcessor(orchestrator, publisher, reciever)

	// Runs execute strictly one at a time; Stop closes the queue and Start
	// returns once the in-flight task finishes.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutdown signal received, stopping task processor...")
		processor.Stop()
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")
	processor.Start()

	log.Println("Worker process stopped.")
}
