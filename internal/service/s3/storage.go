package s3

import (
	"context"
	"io"
)

// S3Object is a readable object returned from storage.
type S3Object interface {
	io.ReadCloser
	ContentLength() int64
	ContentType() string
}

type s3Object struct {
	io.ReadCloser
	contentLength int64
	contentType   string
}

func (o *s3Object) ContentLength() int64 {
	return o.contentLength
}

func (o *s3Object) ContentType() string {
	return o.contentType
}

// Storage is the object-storage surface consumed by the document and
// preview services.
type Storage interface {
	UploadBytes(key string, data []byte) error
	GetObject(ctx context.Context, key string) (S3Object, error)
	DeleteObject(key string) error
}
