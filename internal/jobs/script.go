package jobs

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

// PreprocessScript is the preprocessing entrypoint shipped with the binary
// and staged to object storage before each processing run.
//
//go:embed scripts/preprocess.py
var PreprocessScript []byte

const scriptName = "preprocess.py"

// UploaderAPI is the subset of the object-storage upload manager used for
// script staging.
type UploaderAPI interface {
	UploadWithContext(
		aws.Context, *s3manager.UploadInput, ...func(*s3manager.Uploader),
	) (*s3manager.UploadOutput, error)
}

// StageScript uploads the embedded preprocessing script to
// s3://<bucket>/<prefix>/code/preprocess.py and returns its URI.
func StageScript(ctx context.Context, uploader UploaderAPI, bucket, prefix string) (string, error) {
	key := path.Join(prefix, "code", scriptName)
	_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(PreprocessScript),
		ContentType: aws.String("text/x-python"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot upload s3://%s/%s", bucket, key)
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}
