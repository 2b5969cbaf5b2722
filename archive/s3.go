package archive

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Archive stores archive objects in an S3 bucket, grounded on the
// teacher's util/s3.Helper (session + bucket, s3manager uploader/downloader
// for streaming transfer).
type S3Archive struct {
	name     string
	bucket   string
	prefix   string
	readOnly bool
	session  *session.Session
}

// NewS3Archive opens an S3-backed archive in the given bucket/prefix using
// static credentials, the same credential flow as
// util/s3.MakeS3SessionForUploadWithBucket.
func NewS3Archive(name, region, bucket, prefix, accessKeyID, secretAccessKey string, readOnly bool) (*S3Archive, error) {
	creds := credentials.NewStaticCredentials(accessKeyID, secretAccessKey, "")
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region), Credentials: creds})
	if err != nil {
		return nil, err
	}
	return &S3Archive{name: name, bucket: bucket, prefix: prefix, readOnly: readOnly, session: sess}, nil
}

func (a *S3Archive) Name() string   { return a.name }
func (a *S3Archive) Writable() bool { return !a.readOnly }

func (a *S3Archive) key(remote string) string {
	if a.prefix == "" {
		return remote
	}
	return a.prefix + "/" + remote
}

// GetFile downloads the object at remote into local, via s3manager's
// concurrent-chunk downloader.
func (a *S3Archive) GetFile(ctx context.Context, remote, local string) error {
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	defer f.Close()

	downloader := s3manager.NewDownloader(a.session)
	_, err = downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(remote)),
	})
	return err
}

// PutFile uploads local to the object at remote, via s3manager's
// concurrent-part uploader.
func (a *S3Archive) PutFile(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	uploader := s3manager.NewUploader(a.session)
	_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(remote)),
		Body:   f,
	})
	return err
}

// MkdirRemote is a no-op: S3 keys have no directory concept.
func (a *S3Archive) MkdirRemote(ctx context.Context, path string) error {
	return nil
}

// InitializeArchive writes a marker object so hasAnyWritable-style probes
// can confirm the bucket/prefix is reachable and writable.
func (a *S3Archive) InitializeArchive(ctx context.Context) error {
	svc := s3.New(a.session)
	_, err := svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(".well-known/history-archive")),
	})
	return err
}
