package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"VizFM/config"
	"VizFM/logger"
)

var minioClient *minio.Client

// InitMinio initializes the MinIO client and ensures the artifact bucket
// exists. Only called when an endpoint is configured.
func InitMinio(cfg *config.Config) error {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", cfg.MinioBucket, err)
		}
	}

	minioClient = client
	logger.Info("MinIO artifact archive ready", logger.String("bucket", cfg.MinioBucket))
	return nil
}

// Enabled reports whether artifact archival is configured.
func Enabled() bool {
	return minioClient != nil
}

// ArchiveArtifact uploads a finished artifact under exports/<jobID>/.
func ArchiveArtifact(ctx context.Context, cfg *config.Config, jobID, filename, mimeType string, data []byte) error {
	if minioClient == nil {
		return nil
	}
	objectName := fmt.Sprintf("exports/%s/%s", jobID, filename)

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := minioClient.PutObject(opCtx, cfg.MinioBucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return fmt.Errorf("failed to archive artifact %s: %w", objectName, err)
	}

	logger.Info("artifact archived",
		logger.String("jobId", jobID),
		logger.String("object", objectName),
		logger.Int("bytes", len(data)))
	return nil
}

// FetchArtifact downloads an archived artifact, for serving history entries
// whose bytes are no longer held in memory.
func FetchArtifact(ctx context.Context, cfg *config.Config, jobID, filename string) ([]byte, error) {
	if minioClient == nil {
		return nil, fmt.Errorf("artifact archive not configured")
	}
	objectName := fmt.Sprintf("exports/%s/%s", jobID, filename)

	obj, err := minioClient.GetObject(ctx, cfg.MinioBucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", objectName, err)
	}
	defer obj.Close()

	return io.ReadAll(obj)
}
