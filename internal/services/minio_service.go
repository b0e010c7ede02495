package services

import (
	"context"
	"fmt"
	"time"

	"carechat/configs"
	"carechat/internal/interfaces"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinioService turns stored avatar keys into short-lived presigned URLs.
type MinioService struct {
	minioClient *minio.Client
	bucket      string
	expiry      time.Duration
	logger      zerolog.Logger
}

var _ interfaces.AvatarResolver = (*MinioService)(nil)

func NewMinioClient(config *configs.Config) (*minio.Client, error) {
	return minio.New(config.Viper.GetString("minio.endpoint"), &minio.Options{
		Creds: credentials.NewStaticV4(
			config.Viper.GetString("minio.access_key_id"),
			config.Viper.GetString("minio.secret_access_key"),
			"",
		),
		Secure: config.Viper.GetBool("minio.use_ssl"),
		// A fixed region lets presigning skip the bucket location round trip.
		Region: config.Viper.GetString("minio.region"),
	})
}

func NewMinioService(minioClient *minio.Client, bucket string, expiry time.Duration, logger zerolog.Logger) *MinioService {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &MinioService{
		minioClient: minioClient,
		bucket:      bucket,
		expiry:      expiry,
		logger:      logger,
	}
}

// EnsureBucket creates the avatar bucket unless it already exists.
func (ms *MinioService) EnsureBucket(ctx context.Context) error {
	err := ms.minioClient.MakeBucket(ctx, ms.bucket, minio.MakeBucketOptions{})
	if err == nil {
		ms.logger.Info().Str("bucket", ms.bucket).Msg("created bucket")
		return nil
	}
	exists, errBucketExists := ms.minioClient.BucketExists(ctx, ms.bucket)
	if errBucketExists == nil && exists {
		ms.logger.Debug().Str("bucket", ms.bucket).Msg("bucket already exists")
		return nil
	}
	return fmt.Errorf("ensure bucket %s: %w", ms.bucket, err)
}

func (ms *MinioService) AvatarURL(ctx context.Context, objectKey string) (string, error) {
	if objectKey == "" {
		return "", nil
	}
	presigned, err := ms.minioClient.PresignedGetObject(ctx, ms.bucket, objectKey, ms.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectKey, err)
	}
	return presigned.String(), nil
}
