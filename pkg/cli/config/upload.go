package config

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/service/blob"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Upload holds CLI flags for signed upload URL issuance. It is disabled without a bucket.
type Upload struct {
	bucket string
	prefix string
	ttl    time.Duration
}

// Flags returns CLI flags for upload configuration
func (u *Upload) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "upload-bucket",
			Usage:       "Cloud Storage bucket for direct uploads (enables POST /uploads)",
			Category:    "Upload",
			Sources:     cli.EnvVars("KOTODAMA_UPLOAD_BUCKET"),
			Destination: &u.bucket,
		},
		&cli.StringFlag{
			Name:        "upload-prefix",
			Usage:       "Object name prefix for uploads",
			Category:    "Upload",
			Sources:     cli.EnvVars("KOTODAMA_UPLOAD_PREFIX"),
			Destination: &u.prefix,
		},
		&cli.DurationFlag{
			Name:        "upload-url-ttl",
			Usage:       "Lifetime of signed upload URLs",
			Category:    "Upload",
			Value:       15 * time.Minute,
			Sources:     cli.EnvVars("KOTODAMA_UPLOAD_URL_TTL"),
			Destination: &u.ttl,
		},
	}
}

// IsConfigured reports whether an upload bucket was given
func (u *Upload) IsConfigured() bool {
	return u.bucket != ""
}

// Configure creates the uploader. It returns nil when no bucket is configured.
func (u *Upload) Configure(ctx context.Context) (*blob.Uploader, error) {
	if u.bucket == "" {
		return nil, nil
	}
	if u.ttl <= 0 {
		return nil, goerr.Wrap(ErrInvalidConfig, "upload URL TTL must be positive", goerr.V("ttl", u.ttl.String()))
	}

	uploader, err := blob.New(ctx, u.bucket, blob.WithPrefix(u.prefix), blob.WithTTL(u.ttl))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create uploader", goerr.V("bucket", u.bucket))
	}

	logging.Default().Info("Upload URL issuance enabled", "bucket", u.bucket, "ttl", u.ttl.String())
	return uploader, nil
}
