package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// Client wraps the S3 client with sponsor-logo storage functionality
type Client struct {
	s3Client *s3.Client
	config   *Config
}

// UploadResult describes a stored logo object.
type UploadResult struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// NewClient creates a new S3 logo storage client
func NewClient(cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("S3 logo storage is disabled")
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible services require path-style URLs
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	log.Infof("[Storage] Initialized S3 logo storage for bucket: %s", cfg.BucketName)
	return &Client{s3Client: s3Client, config: cfg}, nil
}

// UploadLogo stores a sponsor logo under the given object key and returns
// its public URL.
func (c *Client) UploadLogo(ctx context.Context, objectKey, contentType string, body io.Reader, size int64) (*UploadResult, error) {
	key := strings.TrimLeft(objectKey, "/")

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.config.BucketName),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
		Metadata: map[string]string{
			"upload-source": "sponsorhub-logo",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload logo to S3: %w", err)
	}

	return &UploadResult{
		Path: key,
		URL:  c.publicURL(key),
	}, nil
}

func (c *Client) publicURL(key string) string {
	if c.config.PublicBaseURL != "" {
		return c.config.PublicBaseURL + "/" + key
	}
	if c.config.EndpointURL != "" {
		return strings.TrimRight(c.config.EndpointURL, "/") + "/" + c.config.BucketName + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.config.BucketName, c.config.Region, key)
}
