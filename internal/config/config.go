// Package config assembles the workshop configuration from the machinist.yaml
// file, MACHINIST_* environment variables, and command line flags, merged
// through viper and unmarshaled strictly into typed sections.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/internal/gateway"
	"github.com/machinist-ai/machinist/internal/jobs"
	"github.com/machinist-ai/machinist/pkg/check"
	"github.com/machinist-ai/machinist/pkg/model"
)

// StorageConfig locates the artifact bucket and the key prefix every object
// of a workshop run lives under.
type StorageConfig struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
}

// Validate implements the check.Validatable interface.
func (c StorageConfig) Validate() []error {
	return []error{
		check.NotEmpty(c.Prefix, "storage prefix must be set"),
	}
}

// StackConfig shapes the network infrastructure stack.
type StackConfig struct {
	Name  string `json:"name"`
	CIDR  string `json:"cidr"`
	Zones int    `json:"zones"`
}

// DatasetConfig shapes the local split step.
type DatasetConfig struct {
	File       string  `json:"file"`
	TrainRatio float64 `json:"train_ratio"`
	Seed       int64   `json:"seed"`
}

// Validate implements the check.Validatable interface.
func (c DatasetConfig) Validate() []error {
	return []error{
		check.True(c.TrainRatio > 0 && c.TrainRatio < 1,
			"train ratio must be within (0, 1), got %v", c.TrainRatio),
	}
}

// ComputeConfig sizes one kind of managed job.
type ComputeConfig struct {
	InstanceType  string         `json:"instance_type"`
	InstanceCount int            `json:"instance_count"`
	VolumeGB      int            `json:"volume_gb"`
	MaxRuntime    model.Duration `json:"max_runtime"`
	ImageTag      string         `json:"image_tag"`
}

// Validate implements the check.Validatable interface.
func (c ComputeConfig) Validate() []error {
	return []error{
		check.NotEmpty(c.InstanceType, "instance type must be set"),
		check.GreaterThan(int64(c.InstanceCount), 0, "instance count"),
		check.GreaterThan(int64(c.VolumeGB), 0, "volume size"),
	}
}

// TrainingConfig sizes the training job and carries its hyperparameters.
type TrainingConfig struct {
	ComputeConfig
	Hyperparameters map[string]string `json:"hyperparameters"`
}

// RegistryConfig names the model package group.
type RegistryConfig struct {
	Group           string `json:"group"`
	InitialApproval string `json:"initial_approval"`
}

// ServingConfig shapes the real-time endpoint.
type ServingConfig struct {
	EndpointName  string `json:"endpoint_name"`
	InstanceType  string `json:"instance_type"`
	InstanceCount int    `json:"instance_count"`
}

// GatewayConfig shapes the serverless function and HTTP API.
type GatewayConfig struct {
	FunctionName string `json:"function_name"`
	APIName      string `json:"api_name"`
	RoleARN      string `json:"role_arn"`
	BinaryPath   string `json:"binary_path"`
	ListenAddr   string `json:"listen_addr"`
}

// PipelineConfig names the declarative pipeline.
type PipelineConfig struct {
	Name string `json:"name"`
}

// Config is the whole workshop configuration.
type Config struct {
	ConfigFile string `json:"config_file"`

	Cloud    cloud.Config   `json:"cloud"`
	Storage  StorageConfig  `json:"storage"`
	RoleARN  string         `json:"role_arn"`
	Stack    StackConfig    `json:"stack"`
	Dataset  DatasetConfig  `json:"dataset"`
	Process  ComputeConfig  `json:"processing"`
	Training TrainingConfig `json:"training"`
	Registry RegistryConfig `json:"registry"`
	Serving  ServingConfig  `json:"serving"`
	Gateway  GatewayConfig  `json:"gateway"`
	Pipeline PipelineConfig `json:"pipeline"`
	Log      LoggerConfig   `json:"log"`
}

// DefaultConfig returns the workshop defaults. Only the execution role and
// the dataset file have no default; everything else works out of the box.
func DefaultConfig() *Config {
	processing := jobs.DefaultProcessingSpec()
	training := jobs.DefaultTrainingSpec()
	return &Config{
		Cloud: cloud.DefaultConfig(),
		Storage: StorageConfig{
			Prefix: "workshop",
		},
		Stack: StackConfig{
			Name:  "machinist-network",
			CIDR:  "10.0.0.0/16",
			Zones: 2,
		},
		Dataset: DatasetConfig{
			TrainRatio: 0.8,
			Seed:       42,
		},
		Process: ComputeConfig{
			InstanceType:  processing.InstanceType,
			InstanceCount: processing.InstanceCount,
			VolumeGB:      processing.VolumeGB,
			MaxRuntime:    processing.MaxRuntime,
			ImageTag:      "1.2-1",
		},
		Training: TrainingConfig{
			ComputeConfig: ComputeConfig{
				InstanceType:  training.InstanceType,
				InstanceCount: training.InstanceCount,
				VolumeGB:      training.VolumeGB,
				MaxRuntime:    training.MaxRuntime,
				ImageTag:      "1.5-1",
			},
			Hyperparameters: training.Hyperparameters,
		},
		Registry: RegistryConfig{
			Group:           "machinist-failures",
			InitialApproval: "PendingManualApproval",
		},
		Serving: ServingConfig{
			EndpointName:  "machinist-telemetry",
			InstanceType:  "ml.m5.large",
			InstanceCount: 1,
		},
		Gateway: GatewayConfig{
			FunctionName: "machinist-predict",
			APIName:      "machinist",
			ListenAddr:   ":8080",
		},
		Pipeline: PipelineConfig{
			Name: "machinist-workshop",
		},
		Log: *DefaultLoggerConfig(),
	}
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	return []error{
		check.NotEmpty(c.RoleARN, "role_arn must be set to the workshop execution role"),
		check.GreaterThan(int64(c.Serving.InstanceCount), 0, "serving instance count"),
		check.True(c.Stack.Zones >= 1 && c.Stack.Zones <= 4,
			"stack zones must be within [1, 4], got %d", c.Stack.Zones),
	}
}

// Resolve fills derived values: the artifact bucket defaults to the
// account-scoped convention once the account is known.
func (c *Config) Resolve(account string) {
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = cloud.DefaultBucket(c.Cloud.Region, account)
	}
	if c.Gateway.RoleARN == "" {
		c.Gateway.RoleARN = c.RoleARN
	}
}

// GatewaySpec renders the gateway deployment spec from the config.
func (c *Config) GatewaySpec() gateway.Spec {
	spec := gateway.DefaultSpec()
	spec.FunctionName = c.Gateway.FunctionName
	spec.APIName = c.Gateway.APIName
	spec.RoleARN = c.Gateway.RoleARN
	spec.EndpointName = c.Serving.EndpointName
	spec.BinaryPath = c.Gateway.BinaryPath
	spec.Timeout = model.Duration(30 * time.Second)
	return spec
}

// Printable renders the config for a startup log line.
func (c *Config) Printable() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal config")
	}
	return out, nil
}

// Load returns the validated configuration assembled from the defaults, the
// config file, and whatever the caller already registered in viper
// (environment variables and flags).
func Load(v *viper.Viper) (*Config, error) {
	initial, err := fromSettings(v.AllSettings())
	if err != nil {
		return nil, err
	}

	bs, err := readConfigFile(initial.ConfigFile)
	if err != nil {
		return nil, err
	}
	if bs != nil {
		var configMap map[string]interface{}
		if err := yaml.Unmarshal(bs, &configMap); err != nil {
			return nil, errors.Wrap(err, "cannot parse config file")
		}
		if err := v.MergeConfigMap(configMap); err != nil {
			return nil, errors.Wrap(err, "cannot merge config file")
		}
	}

	config, err := fromSettings(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := check.Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func fromSettings(settings map[string]interface{}) (*Config, error) {
	bs, err := json.Marshal(settings)
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal settings")
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(bs, config, yaml.DisallowUnknownFields); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal configuration")
	}
	return config, nil
}

func readConfigFile(configPath string) ([]byte, error) {
	isDefault := configPath == ""
	if isDefault {
		configPath = "machinist.yaml"
	}
	if _, err := os.Stat(configPath); err != nil {
		if isDefault && os.IsNotExist(err) {
			logrus.Debugf("no configuration file at %s, skipping", configPath)
			return nil, nil
		}
		return nil, errors.Wrap(err, "cannot find configuration file")
	}
	bs, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read configuration file")
	}
	return bs, nil
}
