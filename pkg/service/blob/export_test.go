package blob

import (
	"time"

	"cloud.google.com/go/storage"
)

type SignFunc func(object string, opts *storage.SignedURLOptions) (string, error)

func (f SignFunc) SignedURL(object string, opts *storage.SignedURLOptions) (string, error) {
	return f(object, opts)
}

// NewUploaderForTest builds an Uploader with a fake signer and clock
func NewUploaderForTest(bucket string, sign SignFunc, now time.Time, opts ...Option) *Uploader {
	u := newUploader(bucket, sign, opts...)
	u.now = func() time.Time { return now }
	return u
}
