package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"camstore/internal/station"
)

// versionMetaKey is the S3 user metadata key holding a manifest's version.
const versionMetaKey = "version"

// defaultS3Timeout bounds a single S3 call.
const defaultS3Timeout = 5 * time.Minute

// S3Options configures an S3Vault. Endpoint is set for S3-compatible
// services (MinIO, Garage) and switches to path-style addressing.
// Without static keys the default AWS credential chain is used.
type S3Options struct {
	Name            string
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Vault stores offsite content in an S3 bucket:
//
//	<prefix>/content/<checksum>
//	<prefix>/metadata/<stationID>/<name>   (version in user metadata)
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
	timeout  time.Duration
}

// NewS3Vault creates an S3 vault. No request is made until first use; call
// ValidateSetup to check access.
func NewS3Vault(ctx context.Context, opts S3Options) (*S3Vault, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		// S3-compatible services differ in trailing checksum support.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Vault{
		name:     opts.Name,
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		client:   client,
		uploader: manager.NewUploader(client),
		timeout:  defaultS3Timeout,
	}, nil
}

func (v *S3Vault) contentKey(checksum string) string {
	return path.Join(v.prefix, "content", checksum)
}

func (v *S3Vault) metadataKey(stationID, name string) string {
	return path.Join(v.prefix, "metadata", stationID, name)
}

// PutContent uploads content under its checksum unless it is already present.
func (v *S3Vault) PutContent(checksum string, r io.Reader, size int64) error {
	if err := validName(checksum); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	key := v.contentKey(checksum)
	exists, _, err := v.head(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return v.upload(ctx, key, r, size, nil)
}

// GetContent downloads content by checksum into w.
func (v *S3Vault) GetContent(checksum string, w io.Writer) error {
	if err := validName(checksum); err != nil {
		return err
	}
	return v.download(v.contentKey(checksum), w, fmt.Sprintf("content not found: %s", checksum))
}

// PutMetadata uploads a named metadata item with its version.
func (v *S3Vault) PutMetadata(stationID string, name string, r io.Reader, size int64, version int64) error {
	if err := validName(stationID); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	meta := map[string]string{versionMetaKey: strconv.FormatInt(version, 10)}
	return v.upload(ctx, v.metadataKey(stationID, name), r, size, meta)
}

// GetMetadata downloads a named metadata item into w.
func (v *S3Vault) GetMetadata(stationID string, name string, w io.Writer) error {
	return v.download(v.metadataKey(stationID, name), w, fmt.Sprintf("metadata %q not found for station: %s", name, stationID))
}

// GetMetadataVersion returns the stored version of a metadata item, or 0 if
// it does not exist.
func (v *S3Vault) GetMetadataVersion(stationID string, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	exists, meta, err := v.head(ctx, v.metadataKey(stationID, name))
	if err != nil || !exists {
		return 0, err
	}
	raw, ok := meta[versionMetaKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup() error {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Vault) upload(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error {
	counter := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(key),
		Body:     counter,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if counter.n != size {
		// Do not leave a truncated object behind under a content address.
		v.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(v.bucket), Key: aws.String(key)})
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return nil
}

func (v *S3Vault) download(key string, w io.Writer, notFoundMsg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s", notFoundMsg)
		}
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	return nil
}

func (v *S3Vault) head(ctx context.Context, key string) (bool, map[string]string, error) {
	out, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("checking %s: %w", key, err)
	}
	return true, out.Metadata, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Compile-time check that S3Vault implements station.Vault interface
var _ station.Vault = (*S3Vault)(nil)
