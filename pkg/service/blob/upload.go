package blob

import (
	"context"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

const (
	defaultURLTTL     = 15 * time.Minute
	maxFilenameLength = 255
)

// signer is the part of *storage.BucketHandle used to issue URLs
type signer interface {
	SignedURL(object string, opts *storage.SignedURLOptions) (string, error)
}

// Uploader issues V4 signed PUT URLs for a Cloud Storage bucket
type Uploader struct {
	client *storage.Client
	bucket string
	signer signer
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Uploader)

// WithPrefix places every object under prefix
func WithPrefix(prefix string) Option {
	return func(u *Uploader) {
		u.prefix = strings.Trim(prefix, "/")
	}
}

// WithTTL sets how long an issued URL stays valid
func WithTTL(ttl time.Duration) Option {
	return func(u *Uploader) {
		if ttl > 0 {
			u.ttl = ttl
		}
	}
}

func New(ctx context.Context, bucket string, opts ...Option) (*Uploader, error) {
	if bucket == "" {
		return nil, goerr.New("bucket name is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.V("bucket", bucket))
	}

	u := newUploader(bucket, client.Bucket(bucket), opts...)
	u.client = client
	return u, nil
}

func newUploader(bucket string, s signer, opts ...Option) *Uploader {
	u := &Uploader{
		bucket: bucket,
		signer: s,
		ttl:    defaultURLTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// IssueUploadURL returns a signed URL for uploading filename on behalf of scope. The object is
// written to {prefix}/{tenant}/{owner}/{uuid}/{filename}.
func (u *Uploader) IssueUploadURL(ctx context.Context, scope model.Scope, filename, contentType string) (*model.UploadTicket, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := validateFilename(filename); err != nil {
		return nil, err
	}
	if contentType == "" {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "content type is required")
	}

	object := path.Join(u.prefix, scope.TenantID, scope.OwnerID, uuid.NewString(), filename)
	expiresAt := u.now().Add(u.ttl).UTC()

	url, err := u.signer.SignedURL(object, &storage.SignedURLOptions{
		Method:      "PUT",
		Expires:     expiresAt,
		ContentType: contentType,
		Scheme:      storage.SigningSchemeV4,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to sign upload URL",
			goerr.V("bucket", u.bucket),
			goerr.V("object", object))
	}

	return &model.UploadTicket{
		URL:         url,
		Method:      "PUT",
		Object:      object,
		ContentType: contentType,
		ExpiresAt:   expiresAt,
	}, nil
}

func validateFilename(filename string) error {
	if filename == "" {
		return goerr.Wrap(model.ErrInvalidArgument, "filename is required")
	}
	if !utf8.ValidString(filename) || utf8.RuneCountInString(filename) > maxFilenameLength {
		return goerr.Wrap(model.ErrInvalidArgument, "invalid filename", goerr.V("filename", filename))
	}
	if strings.ContainsAny(filename, "/\\") || filename == "." || filename == ".." {
		return goerr.Wrap(model.ErrInvalidArgument, "filename must not contain a path", goerr.V("filename", filename))
	}
	return nil
}

func (u *Uploader) Close() error {
	if u.client != nil {
		return u.client.Close()
	}
	return nil
}
