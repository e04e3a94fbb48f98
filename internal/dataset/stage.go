package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// UploaderAPI is the subset of the object-storage upload manager used for
// staging.
type UploaderAPI interface {
	UploadWithContext(
		aws.Context, *s3manager.UploadInput, ...func(*s3manager.Uploader),
	) (*s3manager.UploadOutput, error)
}

// Staged locates the dataset objects a staging run produced.
type Staged struct {
	RawURI   string
	TrainURI string
	TestURI  string
}

// Stager uploads dataset files to the workshop's object-storage layout:
//
//	s3://<bucket>/<prefix>/data/raw/telemetry.csv
//	s3://<bucket>/<prefix>/data/train/train.csv
//	s3://<bucket>/<prefix>/data/test/test.csv
type Stager struct {
	uploader UploaderAPI
	bucket   string
	prefix   string
	syslog   *logrus.Entry
}

// NewStager builds a stager writing under s3://bucket/prefix.
func NewStager(uploader UploaderAPI, bucket, prefix string) *Stager {
	return &Stager{
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		syslog:   logrus.WithField("component", "dataset"),
	}
}

// StageFile uploads the local file at filePath unmodified as the raw dataset
// object.
func (s *Stager) StageFile(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", errors.Wrapf(err, "cannot open %s", filePath)
	}
	defer f.Close()
	key := s.key("data/raw", path.Base(filePath))
	return s.put(ctx, key, f)
}

// StageSplit encodes and uploads the train and test sets.
func (s *Stager) StageSplit(ctx context.Context, train, test []Record) (Staged, error) {
	trainURI, err := s.putRecords(ctx, s.key("data/train", "train.csv"), train)
	if err != nil {
		return Staged{}, err
	}
	testURI, err := s.putRecords(ctx, s.key("data/test", "test.csv"), test)
	if err != nil {
		return Staged{}, err
	}
	return Staged{TrainURI: trainURI, TestURI: testURI}, nil
}

func (s *Stager) putRecords(ctx context.Context, key string, records []Record) (string, error) {
	var buf bytes.Buffer
	if err := Write(&buf, records); err != nil {
		return "", err
	}
	return s.put(ctx, key, &buf)
}

func (s *Stager) put(ctx context.Context, key string, body io.Reader) (string, error) {
	s.syslog.Infof("uploading s3://%s/%s", s.bucket, key)
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot upload s3://%s/%s", s.bucket, key)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *Stager) key(parts ...string) string {
	return path.Join(append([]string{s.prefix}, parts...)...)
}
