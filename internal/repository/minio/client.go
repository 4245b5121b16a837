package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// retentionRuleID identifies the lifecycle rule managed by this service
const retentionRuleID = "circulars-incoming-retention"

var (
	// ErrEmptyObject is returned when a fetched object has no content.
	ErrEmptyObject = errors.New("object is empty")
	// ErrObjectNotFound is returned when the object key does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// Config represents MinIO repository configuration
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Prefix          string
	Suffix          string
}

// Repository reads raw submissions from the incoming bucket
type Repository struct {
	client        *minio.Client
	config        *Config
	logger        *logger.Logger
	bucketCache   map[string]bool
	bucketCacheMu sync.RWMutex
}

// NewRepository creates a new MinIO repository
func NewRepository(config *Config, log *logger.Logger) (*Repository, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Repository{
		client:      minioClient,
		config:      config,
		logger:      log,
		bucketCache: make(map[string]bool),
	}, nil
}

// Bucket returns the configured incoming bucket
func (r *Repository) Bucket() string {
	return r.config.BucketName
}

// EnsureBucket creates the incoming bucket if it doesn't exist
func (r *Repository) EnsureBucket(ctx context.Context) error {
	bucketName := r.config.BucketName

	r.bucketCacheMu.RLock()
	if r.bucketCache[bucketName] {
		r.bucketCacheMu.RUnlock()
		return nil
	}
	r.bucketCacheMu.RUnlock()

	exists, err := r.client.BucketExists(ctx, bucketName)
	if err != nil {
		r.logger.Error("Failed to check bucket existence",
			logger.String("bucket", bucketName),
			logger.Error(err),
		)
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		r.logger.Info("Creating bucket",
			logger.String("bucket", bucketName),
		)
		if err := r.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			r.logger.Error("Failed to create bucket",
				logger.String("bucket", bucketName),
				logger.Error(err),
			)
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	r.bucketCacheMu.Lock()
	r.bucketCache[bucketName] = true
	r.bucketCacheMu.Unlock()

	return nil
}

// GetObject downloads the raw email stored under bucket/key
func (r *Repository) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	r.logger.Debug("Getting object from MinIO",
		logger.String("bucket", bucket),
		logger.String("object", key),
	)

	obj, err := r.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrEmptyObject)
	}

	r.logger.Debug("Object retrieved successfully",
		logger.String("bucket", bucket),
		logger.String("object", key),
		logger.Int("size", len(data)),
	)

	return data, nil
}

// SetupRetention installs a lifecycle rule expiring incoming objects after
// days. Zero days is a no-op.
func (r *Repository) SetupRetention(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}

	cfg := retentionConfig(r.config.Prefix, days)
	if err := r.client.SetBucketLifecycle(ctx, r.config.BucketName, cfg); err != nil {
		r.logger.Error("Failed to set bucket lifecycle",
			logger.String("bucket", r.config.BucketName),
			logger.Error(err),
		)
		return fmt.Errorf("failed to set lifecycle policy: %w", err)
	}

	r.logger.Info("Retention policy applied",
		logger.String("bucket", r.config.BucketName),
		logger.String("prefix", r.config.Prefix),
		logger.Int("days", days),
	)
	return nil
}

func retentionConfig(prefix string, days int) *lifecycle.Configuration {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:     retentionRuleID,
			Status: "Enabled",
			RuleFilter: lifecycle.Filter{
				Prefix: prefix,
			},
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(days),
			},
		},
	}
	return cfg
}

// Listen subscribes to object-created notifications on the incoming bucket.
// The channel is closed when ctx is done or the server ends the stream.
func (r *Repository) Listen(ctx context.Context) <-chan entity.EventBatch {
	out := make(chan entity.EventBatch)

	go func() {
		defer close(out)

		infoCh := r.client.ListenBucketNotification(ctx,
			r.config.BucketName,
			r.config.Prefix,
			r.config.Suffix,
			[]string{"s3:ObjectCreated:*"},
		)

		for info := range infoCh {
			batch := entity.EventBatch{Err: info.Err}
			if info.Err == nil {
				batch.Events = EventsFromRecords(info.Records)
			}

			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Ping checks that the incoming bucket is reachable
func (r *Repository) Ping(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.config.BucketName)
	if err != nil {
		return fmt.Errorf("failed to reach MinIO: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", r.config.BucketName)
	}
	return nil
}
