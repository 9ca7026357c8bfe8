package blob

import (
	"context"

	infraS3 "scenesync/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed blob.Store from the provided configuration.
//
//	SCENESYNC_BLOB_S3_BUCKET (required), SCENESYNC_BLOB_S3_REGION,
//	SCENESYNC_BLOB_S3_ENDPOINT, SCENESYNC_BLOB_S3_PATH_STYLE and
//	SCENESYNC_BLOB_S3_ACCESS_KEY_ID / SCENESYNC_BLOB_S3_SECRET_ACCESS_KEY
//	are read by OpenFromEnv.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// OpenFromEnv constructs an S3 store using environment variables.
func OpenFromEnv(ctx context.Context) (Store, error) {
	return infraS3.OpenFromEnv(ctx)
}

// NewMockS3ForTests exposes the lightweight in-memory mock for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
