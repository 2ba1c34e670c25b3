package tilepack

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// S3Location is a parsed s3://bucket/key destination.
type S3Location struct {
	Bucket string
	Key    string
}

func (l S3Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// ParseS3URI parses s3://bucket/key. A key ending in / gets the file name
// of localPath appended.
func ParseS3URI(uri string, localPath string) (S3Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return S3Location{}, fmt.Errorf("invalid S3 URI %q, %w", uri, err)
	}

	if u.Scheme != "s3" || u.Host == "" {
		return S3Location{}, fmt.Errorf("invalid S3 URI %q, expected s3://bucket/key", uri)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		key += filepath.Base(localPath)
	}

	return S3Location{Bucket: u.Host, Key: key}, nil
}

// NewS3Uploader builds an uploader from the shared AWS config.
func NewS3Uploader() (*s3manager.Uploader, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, err
	}

	return s3manager.NewUploader(sess), nil
}

// PublishToS3 uploads a finished container.
func PublishToS3(ctx context.Context, uploader s3manageriface.UploaderAPI, path string, dest S3Location, contentType string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s for upload, %w", path, err)
	}
	defer fh.Close()

	input := &s3manager.UploadInput{
		Bucket: aws.String(dest.Bucket),
		Key:    aws.String(dest.Key),
		Body:   fh,
	}

	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := uploader.UploadWithContext(ctx, input)
	if err != nil {
		return fmt.Errorf("upload to %s, %w", dest, err)
	}

	slog.Info("Published container", "location", out.Location, "path", path)
	return nil
}

// ContainerContentType is the MIME type uploaded for an output mode.
func ContainerContentType(mode string) string {
	switch mode {
	case "mbtiles":
		return "application/vnd.sqlite3"
	case "pmtiles":
		return "application/vnd.pmtiles"
	default:
		return ""
	}
}
