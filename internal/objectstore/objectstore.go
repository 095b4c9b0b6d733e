// Package objectstore provides byte-exact blob storage with mandatory
// post-write integrity verification (C1).
package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/retry"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// putRetryPolicy retries at most twice. retry.Do's backoff doubles from
// 100ms (capped at 400ms) and applies jitter, so the two waits are about
// 50-100ms and 100-200ms; the 400ms cap is not reached within two retries.
// Verification failures (IntegrityError) are not
// TransientBackendError and so bypass this policy entirely.
func putRetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}
}

// Store is the object store adapter contract (C1).
type Store interface {
	// Put writes size bytes read from r under key, verifies the write by
	// reading the object back, and returns the content's MD5 hex digest.
	Put(ctx context.Context, key string, r io.Reader, size int64) (md5Hex string, err error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Config configures the S3-backed store.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // non-empty selects an S3-compatible endpoint (e.g. MinIO)
	// SpoolThresholdBytes is the size above which Put spools r to a temp file
	// before uploading, instead of buffering the whole object in memory.
	SpoolThresholdBytes int64
}

// S3Store implements Store against an S3-compatible backend.
type S3Store struct {
	cfg      Config
	client   *s3.S3
	uploader *s3manager.Uploader
	profile  RuntimeProfile
}

// NewS3Store creates a new S3-backed object store.
func NewS3Store(cfg Config) (*S3Store, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return &S3Store{
		cfg:      cfg,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		profile:  DetectRuntimeProfile(),
	}, nil
}

// Put dispatches to a direct in-memory upload or a spooled temp-file upload
// (spooled when the runtime profile's ShouldSpool says so for the leading
// bytes, or when size exceeds cfg.SpoolThresholdBytes), then performs mandatory
// read-back verification: byte length and MD5 must match exactly.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	head := make([]byte, 5)
	n, _ := io.ReadFull(r, head)
	r = io.MultiReader(bytes.NewReader(head[:n]), r)

	var body io.ReadSeeker
	var wantMD5 string
	var err error

	spool := s.profile.ShouldSpool(head[:n]) || (s.cfg.SpoolThresholdBytes > 0 && size > s.cfg.SpoolThresholdBytes)
	if spool {
		body, wantMD5, err = spoolToTemp(r)
	} else {
		body, wantMD5, err = bufferInMemory(r)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stage upload for %s: %w", key, err)
	}
	if f, ok := body.(*os.File); ok {
		defer os.Remove(f.Name())
		defer f.Close()
	}

	err = retry.Do(ctx, putRetryPolicy(), func(ctx context.Context) error {
		if _, seekErr := body.Seek(0, io.SeekStart); seekErr != nil {
			return seekErr
		}
		_, uploadErr := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
			Body:   body,
		})
		if uploadErr != nil {
			return domain.NewTransientBackendError("objectstore.put", uploadErr)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	var gotLen int64
	var gotMD5 string
	err = retry.Do(ctx, putRetryPolicy(), func(ctx context.Context) error {
		n, sum, readErr := s.readBack(ctx, key)
		if readErr != nil {
			return domain.NewTransientBackendError("objectstore.verify", readErr)
		}
		gotLen, gotMD5 = n, sum
		return nil
	})
	if err != nil {
		return "", err
	}
	if gotLen != size || gotMD5 != wantMD5 {
		return "", &domain.IntegrityError{
			Key: key, WantLen: int(size), GotLen: int(gotLen), WantMD5: wantMD5, GotMD5: gotMD5,
		}
	}

	return wantMD5, nil
}

func (s *S3Store) readBack(ctx context.Context, key string) (int64, string, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, "", err
	}
	defer out.Body.Close()

	hasher := md5.New()
	n, err := io.Copy(hasher, out.Body)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := retry.Do(ctx, putRetryPolicy(), func(ctx context.Context) error {
		out, getErr := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		if getErr != nil {
			return domain.NewTransientBackendError("objectstore.get", getErr)
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, putRetryPolicy(), func(ctx context.Context) error {
		_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return domain.NewTransientBackendError("objectstore.delete", err)
		}
		return nil
	})
}

// bufferInMemory reads r fully into memory, returning a seekable body and its MD5.
func bufferInMemory(r io.Reader) (io.ReadSeeker, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	sum := md5.Sum(data)
	return bytes.NewReader(data), hex.EncodeToString(sum[:]), nil
}

// spoolToTemp streams r to a temp file while hashing it, avoiding buffering
// large uploads entirely in memory. Caller is responsible for removing the file.
func spoolToTemp(r io.Reader) (io.ReadSeeker, string, error) {
	f, err := os.CreateTemp("", "ingestion-upload-*")
	if err != nil {
		return nil, "", err
	}

	hasher := md5.New()
	if _, err := io.Copy(f, io.TeeReader(r, hasher)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, "", err
	}

	return f, hex.EncodeToString(hasher.Sum(nil)), nil
}

var _ Store = (*S3Store)(nil)
