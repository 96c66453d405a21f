package services

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/swapdesk/stickerswap/stickerswap/common"
)

type fakeObjectProber struct {
	existing map[string]bool
	probes   int
}

func (p *fakeObjectProber) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	p.probes++
	if p.existing[*params.Key] {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, errors.New("NotFound")
}

func imageFixture(prober *fakeObjectProber) *StickerImageService {
	return &StickerImageService{
		client:      prober,
		bucket:      "stickers",
		region:      "nyc3",
		stickerRoot: "cards",
		known:       make(map[int64]string),
	}
}

func TestImageURLResolvesAndRemembers(t *testing.T) {
	prober := &fakeObjectProber{existing: map[string]bool{"cards/7.webp": true}}
	images := imageFixture(prober)
	ctx := context.Background()

	url, err := images.ImageURL(ctx, 7, "Neon Tiger")
	if err != nil {
		t.Fatalf("ImageURL() error = %v", err)
	}
	want := "https://stickers.nyc3.digitaloceanspaces.com/cards/7.webp"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
	if prober.probes != 1 {
		t.Fatalf("probes = %d, want 1", prober.probes)
	}

	// The answering key is remembered; the second lookup never hits the bucket.
	if _, err := images.ImageURL(ctx, 7, "Neon Tiger"); err != nil {
		t.Fatalf("ImageURL() second call error = %v", err)
	}
	if prober.probes != 1 {
		t.Errorf("probes = %d after cached lookup, want 1", prober.probes)
	}
}

func TestImageURLFallsBackToLegacyKey(t *testing.T) {
	prober := &fakeObjectProber{existing: map[string]bool{"cards/7_Neon_Tiger.jpg": true}}
	images := imageFixture(prober)

	url, err := images.ImageURL(context.Background(), 7, "Neon Tiger")
	if err != nil {
		t.Fatalf("ImageURL() error = %v", err)
	}
	want := "https://stickers.nyc3.digitaloceanspaces.com/cards/7_Neon_Tiger.jpg"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
	if prober.probes != 2 {
		t.Errorf("probes = %d, want 2 (preferred key missed first)", prober.probes)
	}
}

func TestImageURLMissingArtworkIsNotFound(t *testing.T) {
	images := imageFixture(&fakeObjectProber{existing: map[string]bool{}})

	_, err := images.ImageURL(context.Background(), 42, "Ghost")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("ImageURL() error = %v, want NotFound", err)
	}
}

func TestForgetReprobesTheBucket(t *testing.T) {
	prober := &fakeObjectProber{existing: map[string]bool{"cards/7.webp": true}}
	images := imageFixture(prober)
	ctx := context.Background()

	if _, err := images.ImageURL(ctx, 7, "Neon Tiger"); err != nil {
		t.Fatalf("ImageURL() error = %v", err)
	}
	images.Forget(7)
	if _, err := images.ImageURL(ctx, 7, "Neon Tiger"); err != nil {
		t.Fatalf("ImageURL() after Forget error = %v", err)
	}
	if prober.probes != 2 {
		t.Errorf("probes = %d, want 2 after Forget", prober.probes)
	}
}
