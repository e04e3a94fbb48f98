package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"gotest.tools/assert"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	return v
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machinist.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsNeedOnlyRole(t *testing.T) {
	v := newTestViper()
	v.Set("config_file", writeConfig(t, "role_arn: arn:aws:iam::123456789012:role/machinist\n"))
	cfg, err := Load(v)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Cloud.Region, "us-east-1")
	assert.Equal(t, cfg.Stack.Name, "machinist-network")
	assert.Equal(t, cfg.Stack.CIDR, "10.0.0.0/16")
	assert.Equal(t, cfg.Dataset.TrainRatio, 0.8)
	assert.Equal(t, cfg.Training.Hyperparameters["objective"], "binary:logistic")
	assert.Equal(t, cfg.Pipeline.Name, "machinist-workshop")
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	v := newTestViper()
	v.Set("config_file", writeConfig(t, `
role_arn: arn:aws:iam::123456789012:role/machinist
cloud:
  region: eu-west-1
dataset:
  train_ratio: 0.7
training:
  instance_type: ml.c5.2xlarge
`))
	cfg, err := Load(v)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Cloud.Region, "eu-west-1")
	assert.Equal(t, cfg.Dataset.TrainRatio, 0.7)
	assert.Equal(t, cfg.Training.InstanceType, "ml.c5.2xlarge")
	// Untouched defaults survive a partial section override.
	assert.Equal(t, cfg.Training.VolumeGB, 30)
}

func TestLoadSettingsBeatFile(t *testing.T) {
	v := newTestViper()
	v.Set("config_file", writeConfig(t, `
role_arn: arn:aws:iam::123456789012:role/machinist
cloud:
  region: eu-west-1
`))
	// Flags and environment variables land in viper before the file merge and
	// take precedence over it.
	v.Set("cloud.region", "us-west-2")
	cfg, err := Load(v)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Cloud.Region, "us-west-2")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	v := newTestViper()
	v.Set("config_file", writeConfig(t, `
role_arn: arn:aws:iam::123456789012:role/machinist
trainning:
  instance_type: ml.c5.2xlarge
`))
	_, err := Load(v)
	assert.ErrorContains(t, err, "cannot unmarshal configuration")
}

func TestLoadRejectsMissingRole(t *testing.T) {
	v := newTestViper()
	v.Set("config_file", writeConfig(t, "storage:\n  prefix: workshop\n"))
	_, err := Load(v)
	assert.ErrorContains(t, err, "role_arn")
}

func TestLoadCollectsSectionViolations(t *testing.T) {
	v := newTestViper()
	v.Set("config_file", writeConfig(t, `
role_arn: arn:aws:iam::123456789012:role/machinist
dataset:
  train_ratio: 1.5
stack:
  zones: 9
log:
  level: shouting
`))
	_, err := Load(v)
	assert.ErrorContains(t, err, "train ratio")
	assert.ErrorContains(t, err, "zones")
	assert.ErrorContains(t, err, "shouting")
}

func TestResolveFillsBucketAndGatewayRole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RoleARN = "arn:aws:iam::123456789012:role/machinist"
	cfg.Resolve("123456789012")
	assert.Equal(t, cfg.Storage.Bucket, "machinist-us-east-1-123456789012")
	assert.Equal(t, cfg.Gateway.RoleARN, cfg.RoleARN)

	cfg = DefaultConfig()
	cfg.Storage.Bucket = "my-own-bucket"
	cfg.Resolve("123456789012")
	assert.Equal(t, cfg.Storage.Bucket, "my-own-bucket")
}
