package main

import (
	"context"

	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/spf13/cobra"

	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/internal/jobs"
	"github.com/machinist-ai/machinist/internal/stack"
)

// vpcAttachment resolves the workshop network's private subnets and security
// group into a job attachment, or nil when the job runs outside the VPC.
func vpcAttachment(ctx context.Context, w *workshop, attach bool) (*jobs.VpcAttachment, error) {
	if !attach {
		return nil, nil
	}
	outputs, err := stack.New(w.sess).Outputs(ctx, w.cfg.Stack.Name)
	if err != nil {
		return nil, err
	}
	return &jobs.VpcAttachment{
		SubnetIDs:        outputs.PrivateSubnetIDs,
		SecurityGroupIDs: []string{outputs.SecurityGroupID},
	}, nil
}

// Object layout under s3://bucket/prefix: `dataset stage` uploads the
// header-carrying canonical files under data/{raw,train,test}, while the
// processing job writes its headerless, label-first outputs under
// data/processed. The training channels read only the processed prefixes, so
// the two layouts never mix inside one channel.
func (w *workshop) rawDataURI() string        { return w.s3URI("data", "raw") }
func (w *workshop) processedTrainURI() string { return w.s3URI("data", "processed", "train") }
func (w *workshop) processedTestURI() string  { return w.s3URI("data", "processed", "test") }

func buildProcessingSpec(
	w *workshop, scriptURI string, vpc *jobs.VpcAttachment,
) (jobs.ProcessingSpec, error) {
	image, err := cloud.AlgorithmImage(
		w.cfg.Cloud.Region, cloud.AlgorithmScikitLearn, w.cfg.Process.ImageTag)
	if err != nil {
		return jobs.ProcessingSpec{}, err
	}
	spec := jobs.DefaultProcessingSpec()
	spec.Image = image
	spec.InstanceType = w.cfg.Process.InstanceType
	spec.InstanceCount = w.cfg.Process.InstanceCount
	spec.VolumeGB = w.cfg.Process.VolumeGB
	spec.MaxRuntime = w.cfg.Process.MaxRuntime
	spec.RoleARN = w.cfg.RoleARN
	spec.ScriptURI = scriptURI
	spec.InputURI = w.rawDataURI()
	spec.TrainURI = w.processedTrainURI()
	spec.TestURI = w.processedTestURI()
	spec.TrainRatio = w.cfg.Dataset.TrainRatio
	spec.Seed = w.cfg.Dataset.Seed
	spec.VPC = vpc
	return spec, nil
}

func processingSpec(ctx context.Context, w *workshop, attach bool) (jobs.ProcessingSpec, error) {
	scriptURI, err := jobs.StageScript(ctx,
		s3manager.NewUploader(w.sess), w.cfg.Storage.Bucket, w.cfg.Storage.Prefix)
	if err != nil {
		return jobs.ProcessingSpec{}, err
	}
	vpc, err := vpcAttachment(ctx, w, attach)
	if err != nil {
		return jobs.ProcessingSpec{}, err
	}
	return buildProcessingSpec(w, scriptURI, vpc)
}

func buildTrainingSpec(w *workshop, vpc *jobs.VpcAttachment) (jobs.TrainingSpec, error) {
	image, err := cloud.AlgorithmImage(
		w.cfg.Cloud.Region, cloud.AlgorithmXGBoost, w.cfg.Training.ImageTag)
	if err != nil {
		return jobs.TrainingSpec{}, err
	}
	spec := jobs.DefaultTrainingSpec()
	spec.Image = image
	spec.InstanceType = w.cfg.Training.InstanceType
	spec.InstanceCount = w.cfg.Training.InstanceCount
	spec.VolumeGB = w.cfg.Training.VolumeGB
	spec.MaxRuntime = w.cfg.Training.MaxRuntime
	spec.RoleARN = w.cfg.RoleARN
	spec.Hyperparameters = w.cfg.Training.Hyperparameters
	spec.TrainURI = w.processedTrainURI()
	spec.ValidationURI = w.processedTestURI()
	spec.OutputURI = w.s3URI("models")
	spec.VPC = vpc
	return spec, nil
}

func trainingSpec(ctx context.Context, w *workshop, attach bool) (jobs.TrainingSpec, error) {
	vpc, err := vpcAttachment(ctx, w, attach)
	if err != nil {
		return jobs.TrainingSpec{}, err
	}
	return buildTrainingSpec(w, vpc)
}

func newPreprocessCmd() *cobra.Command {
	var attachVPC bool
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Run the managed preprocessing job and wait for completion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			spec, err := processingSpec(ctx, w, attachVPC)
			if err != nil {
				return err
			}
			manager := jobs.New(w.sess)
			handle, err := manager.RunProcessing(ctx, spec)
			if err != nil {
				return err
			}
			if _, err := manager.Wait(ctx, handle); err != nil {
				return err
			}
			cmd.Printf("train: %s\n", spec.TrainURI)
			cmd.Printf("test:  %s\n", spec.TestURI)
			return nil
		},
	}
	cmd.Flags().BoolVar(&attachVPC, "vpc", false,
		"attach the job to the workshop network's private subnets")
	return cmd
}

func newTrainCmd() *cobra.Command {
	var attachVPC bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the managed training job and wait for the model artifact",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			spec, err := trainingSpec(ctx, w, attachVPC)
			if err != nil {
				return err
			}
			manager := jobs.New(w.sess)
			handle, err := manager.RunTraining(ctx, spec)
			if err != nil {
				return err
			}
			status, err := manager.Wait(ctx, handle)
			if err != nil {
				return err
			}
			cmd.Printf("artifact: %s\n", status.ArtifactURI)
			return nil
		},
	}
	cmd.Flags().BoolVar(&attachVPC, "vpc", false,
		"attach the job to the workshop network's private subnets")
	return cmd
}
