package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go/logging"
	"github.com/guildgate/backend/internal/config"
)

// S3Service holds the client for the backup bucket that receives audit
// log exports
type S3Service struct {
	client *s3.Client
	cfg    *config.Config
}

func NewS3Service(cfg *config.Config) (*S3Service, error) {
	client, err := buildClient(cfg.BackupS3Endpoint, cfg.BackupS3Region, cfg.BackupS3AccessKeyID, cfg.BackupS3SecretAccessKey, cfg.BackupS3UsePathStyle)
	if err != nil {
		return nil, err
	}
	return &S3Service{client: client, cfg: cfg}, nil
}

func buildClient(endpoint, region, key, secret string, pathStyle bool) (*s3.Client, error) {
	resolver := awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
		func(service, rgn string, options ...interface{}) (aws.Endpoint, error) {
			if endpoint != "" {
				return aws.Endpoint{URL: endpoint, SigningRegion: region}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		}))
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		resolver,
		awsconfig.WithLogger(logging.NewStandardLogger(nil)),
	)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	})
	return client, nil
}

// Upload writes an object to the backup bucket
func (s *S3Service) Upload(ctx context.Context, bucket, key string, body io.Reader, ctype string) error {
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        body,
		ContentType: &ctype,
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// ListKeys lists object keys under a prefix, newest first capped at max
func (s *S3Service) ListKeys(ctx context.Context, bucket, prefix string, max int32) ([]string, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &bucket,
		Prefix:  &prefix,
		MaxKeys: &max,
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key != nil {
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}

// ObjectTimestampKey builds a dated key for an export object
func ObjectTimestampKey(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s/%s.json.gz", prefix, ts.UTC().Format("2006/01/02"))
}
