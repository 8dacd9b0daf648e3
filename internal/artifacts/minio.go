// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package artifacts

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/buildit-ci/buildit/internal/engineerr"
)

// MinioUploader uploads artifacts to an S3-compatible bucket via minio-go.
type MinioUploader struct {
	client *minio.Client
	bucket string
}

// NewMinioUploader dials endpoint with static credentials. useTLS controls
// whether the client speaks HTTPS to endpoint.
func NewMinioUploader(endpoint, accessKey, secretKey, bucket string, useTLS bool) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useTLS,
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInternal, "connecting to artifact store", err)
	}
	return &MinioUploader{client: client, bucket: bucket}, nil
}

// Upload implements Uploader.
func (m *MinioUploader) Upload(ctx context.Context, key, localPath string) (string, int64, error) {
	info, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{})
	if err != nil {
		return "", 0, engineerr.Wrap(engineerr.KindInternal, "uploading to artifact store", err)
	}
	return fmt.Sprintf("s3://%s/%s", m.bucket, key), info.Size, nil
}
