package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/h2non/bimg"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service/s3"
)

const (
	maxImageSize  = 1024
	jpegQuality   = 85
	previewPrefix = "previews/"
)

// ErrUnsupportedPreview marks MIME types previews are not generated for.
var ErrUnsupportedPreview = errors.New("unsupported preview type")

var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Service generates JPEG thumbnails for image documents and caches them in
// object storage next to the originals.
type Service struct {
	storage s3.Storage
}

func NewService(storage s3.Storage) *Service {
	return &Service{storage: storage}
}

// GetOrGenerate returns the cached preview for the document, generating and
// caching it on first request. data is only read on a cache miss.
func (s *Service) GetOrGenerate(ctx context.Context, doc *domain.Document, data io.Reader) ([]byte, error) {
	if !supportedTypes[doc.MIMEType] {
		return nil, ErrUnsupportedPreview
	}

	previewKey := previewPrefix + doc.ID.String()

	cached, err := s.storage.GetObject(ctx, previewKey)
	if err == nil {
		defer cached.Close()
		return io.ReadAll(cached)
	}

	raw, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read document data: %w", err)
	}

	previewData, err := optimizeImage(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to generate preview: %w", err)
	}

	if err := s.storage.UploadBytes(previewKey, previewData); err != nil {
		log.Printf("[Preview] failed to cache preview %s: %v", previewKey, err)
	}

	return previewData, nil
}

func optimizeImage(data []byte) ([]byte, error) {
	image := bimg.NewImage(data)

	size, err := image.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to get image size: %w", err)
	}

	width, height := fitDimensions(size.Width, size.Height, maxImageSize)

	processed, err := image.Process(bimg.Options{
		Width:   width,
		Height:  height,
		Quality: jpegQuality,
		Type:    bimg.JPEG,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}

	return processed, nil
}

// fitDimensions scales width x height to fit maxSize, keeping the aspect
// ratio. Images already within bounds keep their size.
func fitDimensions(width, height, maxSize int) (int, int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width > height {
		return maxSize, (height * maxSize) / width
	}
	return (width * maxSize) / height, maxSize
}
