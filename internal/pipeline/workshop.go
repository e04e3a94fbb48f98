package pipeline

import (
	"fmt"

	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/internal/jobs"
)

// Workshop pipeline parameter names.
const (
	ParamInputDataURI      = "InputDataUri"
	ParamTrainRatio        = "TrainRatio"
	ParamTrainInstanceType = "TrainInstanceType"
	ParamApprovalStatus    = "ModelApprovalStatus"
)

// WorkshopInput configures the default workshop pipeline.
type WorkshopInput struct {
	Name      string
	Region    string
	RoleARN   string
	Bucket    string
	Prefix    string
	Group     string
	ScriptURI string

	ProcessingImageTag string
	TrainingImageTag   string
}

// Workshop builds the workshop's three-step pipeline: preprocess the raw
// dataset, train the gradient-boosted model on the preprocessed outputs, and
// register the trained model. Data locations, the split ratio, the training
// instance type, and the initial approval status stay substitutable at
// execution time.
func Workshop(in WorkshopInput) (Pipeline, error) {
	processingImage, err := cloud.AlgorithmImage(in.Region, cloud.AlgorithmScikitLearn,
		in.ProcessingImageTag)
	if err != nil {
		return Pipeline{}, err
	}
	trainingImage, err := cloud.AlgorithmImage(in.Region, cloud.AlgorithmXGBoost,
		in.TrainingImageTag)
	if err != nil {
		return Pipeline{}, err
	}

	s3 := func(parts string) string {
		return fmt.Sprintf("s3://%s/%s/%s", in.Bucket, in.Prefix, parts)
	}
	defaults := jobs.DefaultTrainingSpec()

	return Pipeline{
		Name:    in.Name,
		RoleARN: in.RoleARN,
		Parameters: []Parameter{
			{Name: ParamInputDataURI, Type: ParameterString, Default: s3("data/raw")},
			{Name: ParamTrainRatio, Type: ParameterFloat, Default: 0.8},
			{Name: ParamTrainInstanceType, Type: ParameterString, Default: defaults.InstanceType},
			{Name: ParamApprovalStatus, Type: ParameterString, Default: "PendingManualApproval"},
		},
		Steps: []Step{
			{
				Name: "preprocess",
				Processing: &ProcessingStep{
					Image:         processingImage,
					InstanceType:  String("ml.m5.xlarge"),
					InstanceCount: 1,
					VolumeGB:      30,
					RatioArg:      Param(ParamTrainRatio),
					ScriptURI:     String(in.ScriptURI),
					InputURI:      Param(ParamInputDataURI),
					TrainURI:      String(s3("pipeline/train")),
					TestURI:       String(s3("pipeline/test")),
				},
			},
			{
				Name:      "train",
				DependsOn: []string{"preprocess"},
				Training: &TrainingStep{
					Image:           trainingImage,
					InstanceType:    Param(ParamTrainInstanceType),
					InstanceCount:   1,
					VolumeGB:        30,
					Hyperparameters: defaults.Hyperparameters,
					TrainURI: StepProperty("preprocess",
						"ProcessingOutputConfig.Outputs['train'].S3Output.S3Uri"),
					ValidationURI: StepProperty("preprocess",
						"ProcessingOutputConfig.Outputs['test'].S3Output.S3Uri"),
					OutputURI: String(s3("pipeline/models")),
				},
			},
			{
				Name:      "register",
				DependsOn: []string{"train"},
				Register: &RegisterStep{
					Group:          in.Group,
					Image:          trainingImage,
					ArtifactURI:    StepProperty("train", "ModelArtifacts.S3ModelArtifacts"),
					ApprovalStatus: Param(ParamApprovalStatus),
				},
			},
		},
	}, nil
}
