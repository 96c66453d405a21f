package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/swapdesk/stickerswap/stickerswap/common"
)

// objectProber is the slice of the S3 API the resolver needs; *s3.Client
// satisfies it.
type objectProber interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// StickerImageService resolves public artwork URLs for stickers stored in an
// S3-compatible Spaces bucket. Keys are probed once and remembered, so the
// common path never touches the bucket.
type StickerImageService struct {
	client      objectProber
	bucket      string
	region      string
	stickerRoot string

	mu    sync.RWMutex
	known map[int64]string
}

func NewStickerImageService(key, secret, region, bucket, stickerRoot string) (*StickerImageService, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.digitaloceanspaces.com", region),
		}, nil
	})

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load spaces config: %w", err)
	}

	return &StickerImageService{
		client:      s3.NewFromConfig(cfg),
		bucket:      bucket,
		region:      region,
		stickerRoot: strings.TrimPrefix(stickerRoot, "/"),
		known:       make(map[int64]string),
	}, nil
}

// ImageURL returns the public URL of a sticker's artwork. When the preferred
// key does not exist it falls back to the legacy layout, remembering whichever
// key answered.
func (s *StickerImageService) ImageURL(ctx context.Context, stickerID int64, name string) (string, error) {
	s.mu.RLock()
	key, ok := s.known[stickerID]
	s.mu.RUnlock()
	if ok {
		return s.publicURL(key), nil
	}

	candidates := []string{
		fmt.Sprintf("%s/%d.webp", s.stickerRoot, stickerID),
		fmt.Sprintf("%s/%d_%s.jpg", s.stickerRoot, stickerID, strings.ReplaceAll(name, " ", "_")),
	}
	for _, candidate := range candidates {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &s.bucket,
			Key:    &candidate,
		})
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.known[stickerID] = candidate
		s.mu.Unlock()
		return s.publicURL(candidate), nil
	}
	return "", fmt.Errorf("no artwork found for sticker %d: %w", stickerID, common.ErrNotFound)
}

// Forget drops the remembered key so the next lookup re-probes the bucket.
func (s *StickerImageService) Forget(stickerID int64) {
	s.mu.Lock()
	delete(s.known, stickerID)
	s.mu.Unlock()
}

func (s *StickerImageService) publicURL(key string) string {
	return fmt.Sprintf("https://%s.%s.digitaloceanspaces.com/%s", s.bucket, s.region, key)
}
