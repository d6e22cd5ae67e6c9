/*
Copyright 2025 The OrgSync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/orgsync/orgsync/internal/config"
)

// DefaultS3Region is assumed when no region is configured, matching the
// most common default of S3-compatible stores.
const DefaultS3Region = "us-east-1"

const (
	errLoadAWSConfig = "cannot load AWS configuration"

	errFmtPutObject  = "cannot put object %q"
	errFmtGetObject  = "cannot get object %q"
	errFmtHeadObject = "cannot head object %q"
)

// s3API is the slice of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// An S3 stores blobs in an S3-compatible bucket under an optional key
// prefix.
type S3 struct {
	client s3API
	bucket string
	prefix string
	log    logging.Logger
}

// NewS3 returns a store backed by the configured bucket. Static
// credentials from the profile take precedence; otherwise the SDK's
// default chain applies. An endpoint override and path-style addressing
// support S3-compatible stores outside AWS.
func NewS3(ctx context.Context, p config.Profile, log logging.Logger) (*S3, error) {
	region := p.S3Region
	if region == "" {
		region = DefaultS3Region
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if p.S3AccessKey != "" && p.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.S3AccessKey, p.S3SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errLoadAWSConfig)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if p.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(p.S3Endpoint)
		}
		o.UsePathStyle = p.S3ForcePathStyle
	})

	return &S3{client: client, bucket: p.S3Bucket, prefix: p.S3PathPrefix, log: log}, nil
}

// key prepends the configured prefix to a blob name.
func (s *S3) key(name string) string {
	if p := strings.Trim(s.prefix, "/"); p != "" {
		return p + "/" + name
	}
	return name
}

// SaveJSON implements Store.
func (s *S3) SaveJSON(ctx context.Context, name string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Wrapf(err, errFmtPutObject, name)
	}

	s.log.Debug("Saved blob to S3", "bucket", s.bucket, "key", s.key(name), "bytes", len(data))
	return nil
}

// LoadJSON implements Store.
func (s *S3) LoadJSON(ctx context.Context, name string, into any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return errors.Wrapf(fs.ErrNotExist, errFmtGetObject, name)
		}
		return errors.Wrapf(err, errFmtGetObject, name)
	}
	defer out.Body.Close() //nolint:errcheck // Read errors surface below.

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return errors.Wrapf(err, errFmtGetObject, name)
	}
	return errors.Wrap(json.Unmarshal(data, into), errDecodeJSON)
}

// Exists implements Store.
func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, errors.Wrapf(err, errFmtHeadObject, name)
	}
	return true, nil
}
