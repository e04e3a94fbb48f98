package jobs

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	petname "github.com/dustinkirkland/golang-petname"

	"github.com/machinist-ai/machinist/pkg/check"
	"github.com/machinist-ai/machinist/pkg/model"
	"github.com/machinist-ai/machinist/pkg/ptrs"
)

// Configuration constants for generated job names.
const (
	NameGeneratorWords = 2
	NameGeneratorSep   = "-"
)

// Container paths the processing script contract is built on. The pipeline
// definition renders the same layout.
const (
	ProcessingCodePath  = "/opt/ml/processing/input/code"
	ProcessingDataPath  = "/opt/ml/processing/input/data"
	ProcessingTrainPath = "/opt/ml/processing/output/train"
	ProcessingTestPath  = "/opt/ml/processing/output/test"
)

var jobNamePattern = regexp.MustCompile(`^[a-zA-Z0-9](-*[a-zA-Z0-9]){0,62}$`)

func checkJobName(name string) []error {
	return []error{
		check.Match(name, jobNamePattern,
			"job name must be 1-63 alphanumeric-or-hyphen characters"),
	}
}

// VpcAttachment places job containers into the workshop network's private
// subnets.
type VpcAttachment struct {
	SubnetIDs        []string `json:"subnet_ids"`
	SecurityGroupIDs []string `json:"security_group_ids"`
}

// Validate implements the check.Validatable interface.
func (v VpcAttachment) Validate() []error {
	return []error{
		check.True(len(v.SubnetIDs) > 0, "vpc attachment needs at least one subnet"),
		check.True(len(v.SecurityGroupIDs) > 0, "vpc attachment needs at least one security group"),
	}
}

func (v *VpcAttachment) vpcConfig() *sagemaker.VpcConfig {
	if v == nil {
		return nil
	}
	return &sagemaker.VpcConfig{
		Subnets:          aws.StringSlice(v.SubnetIDs),
		SecurityGroupIds: aws.StringSlice(v.SecurityGroupIDs),
	}
}

// ProcessingSpec describes one preprocessing job run: the script splits and
// encodes the raw telemetry file into train and test sets.
type ProcessingSpec struct {
	Name          string         `json:"name"`
	Image         string         `json:"image"`
	InstanceType  string         `json:"instance_type"`
	InstanceCount int            `json:"instance_count"`
	VolumeGB      int            `json:"volume_gb"`
	MaxRuntime    model.Duration `json:"max_runtime"`
	RoleARN       string         `json:"role_arn"`
	ScriptURI     string         `json:"script_uri"`
	InputURI      string         `json:"input_uri"`
	TrainURI      string         `json:"train_uri"`
	TestURI       string         `json:"test_uri"`
	TrainRatio    float64        `json:"train_ratio"`
	Seed          int64          `json:"seed"`
	VPC           *VpcAttachment `json:"vpc,omitempty"`
}

// DefaultProcessingSpec returns a spec with the workshop defaults filled in.
// URIs, image, and role are resolved from configuration before submission.
func DefaultProcessingSpec() ProcessingSpec {
	return ProcessingSpec{
		Name: fmt.Sprintf("machinist-prep-%s",
			petname.Generate(NameGeneratorWords, NameGeneratorSep)),
		InstanceType:  "ml.m5.xlarge",
		InstanceCount: 1,
		VolumeGB:      30,
		MaxRuntime:    model.Duration(time.Hour),
		TrainRatio:    0.8,
		Seed:          42,
	}
}

// Validate implements the check.Validatable interface.
func (s ProcessingSpec) Validate() []error {
	errs := checkJobName(s.Name)
	return append(errs,
		check.NotEmpty(s.Image, "processing image must be set"),
		check.NotEmpty(s.InstanceType, "instance type must be set"),
		check.GreaterThan(int64(s.InstanceCount), 0, "instance count"),
		check.GreaterThan(int64(s.VolumeGB), 0, "volume size"),
		check.GreaterThan(s.MaxRuntime.Seconds(), 0, "max runtime"),
		check.NotEmpty(s.RoleARN, "execution role must be set"),
		check.Match(s.ScriptURI, s3URIPattern, "script location"),
		check.Match(s.InputURI, s3URIPattern, "input data location"),
		check.Match(s.TrainURI, s3URIPattern, "train output location"),
		check.Match(s.TestURI, s3URIPattern, "test output location"),
		check.True(s.TrainRatio > 0 && s.TrainRatio < 1,
			"train ratio must be within (0, 1), got %v", s.TrainRatio),
	)
}

var s3URIPattern = regexp.MustCompile(`^s3://[a-z0-9][a-z0-9.-]{1,61}[a-z0-9](/.*)?$`)

// request renders the platform request. Pure: no defaults, no I/O.
func (s ProcessingSpec) request() *sagemaker.CreateProcessingJobInput {
	return &sagemaker.CreateProcessingJobInput{
		ProcessingJobName: aws.String(s.Name),
		RoleArn:           aws.String(s.RoleARN),
		AppSpecification: &sagemaker.AppSpecification{
			ImageUri: aws.String(s.Image),
			ContainerEntrypoint: aws.StringSlice([]string{
				"python3", ProcessingCodePath + "/preprocess.py",
			}),
			ContainerArguments: aws.StringSlice([]string{
				"--train-ratio", strconv.FormatFloat(s.TrainRatio, 'f', -1, 64),
				"--seed", strconv.FormatInt(s.Seed, 10),
			}),
		},
		ProcessingInputs: []*sagemaker.ProcessingInput{
			{
				InputName: aws.String("code"),
				S3Input: &sagemaker.ProcessingS3Input{
					S3Uri:       aws.String(s.ScriptURI),
					LocalPath:   aws.String(ProcessingCodePath),
					S3DataType:  aws.String(sagemaker.ProcessingS3DataTypeS3prefix),
					S3InputMode: aws.String(sagemaker.ProcessingS3InputModeFile),
				},
			},
			{
				InputName: aws.String("data"),
				S3Input: &sagemaker.ProcessingS3Input{
					S3Uri:       aws.String(s.InputURI),
					LocalPath:   aws.String(ProcessingDataPath),
					S3DataType:  aws.String(sagemaker.ProcessingS3DataTypeS3prefix),
					S3InputMode: aws.String(sagemaker.ProcessingS3InputModeFile),
				},
			},
		},
		ProcessingOutputConfig: &sagemaker.ProcessingOutputConfig{
			Outputs: []*sagemaker.ProcessingOutput{
				{
					OutputName: aws.String("train"),
					S3Output: &sagemaker.ProcessingS3Output{
						S3Uri:        aws.String(s.TrainURI),
						LocalPath:    aws.String(ProcessingTrainPath),
						S3UploadMode: aws.String(sagemaker.ProcessingS3UploadModeEndOfJob),
					},
				},
				{
					OutputName: aws.String("test"),
					S3Output: &sagemaker.ProcessingS3Output{
						S3Uri:        aws.String(s.TestURI),
						LocalPath:    aws.String(ProcessingTestPath),
						S3UploadMode: aws.String(sagemaker.ProcessingS3UploadModeEndOfJob),
					},
				},
			},
		},
		ProcessingResources: &sagemaker.ProcessingResources{
			ClusterConfig: &sagemaker.ProcessingClusterConfig{
				InstanceType:   aws.String(s.InstanceType),
				InstanceCount:  ptrs.Ptr(int64(s.InstanceCount)),
				VolumeSizeInGB: ptrs.Ptr(int64(s.VolumeGB)),
			},
		},
		StoppingCondition: &sagemaker.ProcessingStoppingCondition{
			MaxRuntimeInSeconds: ptrs.Ptr(s.MaxRuntime.Seconds()),
		},
		NetworkConfig: s.networkConfig(),
	}
}

func (s ProcessingSpec) networkConfig() *sagemaker.NetworkConfig {
	if s.VPC == nil {
		return nil
	}
	return &sagemaker.NetworkConfig{VpcConfig: s.VPC.vpcConfig()}
}

// TrainingSpec describes one gradient-boosted training job run.
type TrainingSpec struct {
	Name            string            `json:"name"`
	Image           string            `json:"image"`
	InstanceType    string            `json:"instance_type"`
	InstanceCount   int               `json:"instance_count"`
	VolumeGB        int               `json:"volume_gb"`
	MaxRuntime      model.Duration    `json:"max_runtime"`
	RoleARN         string            `json:"role_arn"`
	Hyperparameters map[string]string `json:"hyperparameters"`
	TrainURI        string            `json:"train_uri"`
	ValidationURI   string            `json:"validation_uri"`
	OutputURI       string            `json:"output_uri"`
	VPC             *VpcAttachment    `json:"vpc,omitempty"`
}

// DefaultTrainingSpec returns a spec with the workshop's gradient-boosting
// defaults filled in.
func DefaultTrainingSpec() TrainingSpec {
	return TrainingSpec{
		Name: fmt.Sprintf("machinist-train-%s",
			petname.Generate(NameGeneratorWords, NameGeneratorSep)),
		InstanceType:  "ml.m5.xlarge",
		InstanceCount: 1,
		VolumeGB:      30,
		MaxRuntime:    model.Duration(2 * time.Hour),
		Hyperparameters: map[string]string{
			"objective":        "binary:logistic",
			"eval_metric":      "auc",
			"num_round":        "100",
			"max_depth":        "5",
			"eta":              "0.2",
			"gamma":            "4",
			"min_child_weight": "6",
			"subsample":        "0.8",
		},
	}
}

// Validate implements the check.Validatable interface.
func (s TrainingSpec) Validate() []error {
	errs := checkJobName(s.Name)
	return append(errs,
		check.NotEmpty(s.Image, "training image must be set"),
		check.NotEmpty(s.InstanceType, "instance type must be set"),
		check.GreaterThan(int64(s.InstanceCount), 0, "instance count"),
		check.GreaterThan(int64(s.VolumeGB), 0, "volume size"),
		check.GreaterThan(s.MaxRuntime.Seconds(), 0, "max runtime"),
		check.NotEmpty(s.RoleARN, "execution role must be set"),
		check.True(len(s.Hyperparameters) > 0, "hyperparameters must be set"),
		check.NotEmpty(s.Hyperparameters["objective"], "objective hyperparameter must be set"),
		check.Match(s.TrainURI, s3URIPattern, "train channel location"),
		check.Match(s.ValidationURI, s3URIPattern, "validation channel location"),
		check.Match(s.OutputURI, s3URIPattern, "artifact output location"),
	)
}

// request renders the platform request. Pure: no defaults, no I/O.
func (s TrainingSpec) request() *sagemaker.CreateTrainingJobInput {
	return &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(s.Name),
		RoleArn:         aws.String(s.RoleARN),
		AlgorithmSpecification: &sagemaker.AlgorithmSpecification{
			TrainingImage:     aws.String(s.Image),
			TrainingInputMode: aws.String(sagemaker.TrainingInputModeFile),
		},
		HyperParameters: aws.StringMap(s.Hyperparameters),
		InputDataConfig: []*sagemaker.Channel{
			csvChannel("train", s.TrainURI),
			csvChannel("validation", s.ValidationURI),
		},
		OutputDataConfig: &sagemaker.OutputDataConfig{
			S3OutputPath: aws.String(s.OutputURI),
		},
		ResourceConfig: &sagemaker.ResourceConfig{
			InstanceType:   aws.String(s.InstanceType),
			InstanceCount:  ptrs.Ptr(int64(s.InstanceCount)),
			VolumeSizeInGB: ptrs.Ptr(int64(s.VolumeGB)),
		},
		StoppingCondition: &sagemaker.StoppingCondition{
			MaxRuntimeInSeconds: ptrs.Ptr(s.MaxRuntime.Seconds()),
		},
		VpcConfig: s.VPC.vpcConfig(),
	}
}

func csvChannel(name, uri string) *sagemaker.Channel {
	return &sagemaker.Channel{
		ChannelName: aws.String(name),
		ContentType: aws.String("text/csv"),
		DataSource: &sagemaker.DataSource{
			S3DataSource: &sagemaker.S3DataSource{
				S3DataType:             aws.String(sagemaker.S3DataTypeS3prefix),
				S3Uri:                  aws.String(uri),
				S3DataDistributionType: aws.String(sagemaker.S3DataDistributionFullyReplicated),
			},
		},
	}
}
