package main

import (
	"context"

	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/machinist-ai/machinist/internal/jobs"
	"github.com/machinist-ai/machinist/internal/pipeline"
)

func newPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage the declarative preprocess-train-register pipeline",
	}
	cmd.AddCommand(
		newPipelineRenderCmd(),
		newPipelineUpsertCmd(),
		newPipelineRunCmd(),
		newPipelineStatusCmd(),
	)
	return cmd
}

// workshopPipeline builds the configured pipeline. The script URI matches the
// layout StageScript uploads to, so render needs no staging round-trip.
func workshopPipeline(w *workshop) (pipeline.Pipeline, error) {
	return pipeline.Workshop(pipeline.WorkshopInput{
		Name:               w.cfg.Pipeline.Name,
		Region:             w.cfg.Cloud.Region,
		RoleARN:            w.cfg.RoleARN,
		Bucket:             w.cfg.Storage.Bucket,
		Prefix:             w.cfg.Storage.Prefix,
		Group:              w.cfg.Registry.Group,
		ScriptURI:          w.s3URI("code", "preprocess.py"),
		ProcessingImageTag: w.cfg.Process.ImageTag,
		TrainingImageTag:   w.cfg.Training.ImageTag,
	})
}

func newPipelineRenderCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the pipeline definition document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			p, err := workshopPipeline(w)
			if err != nil {
				return err
			}
			definition, err := p.Definition()
			if err != nil {
				return err
			}
			switch format {
			case "json":
				cmd.Println(definition)
				return nil
			case "yaml":
				// The definition is JSON, which the YAML parser reads directly.
				var doc map[string]interface{}
				if err := yamlv3.Unmarshal([]byte(definition), &doc); err != nil {
					return errors.Wrap(err, "cannot decode definition")
				}
				out, err := yamlv3.Marshal(doc)
				if err != nil {
					return errors.Wrap(err, "cannot render definition as yaml")
				}
				cmd.Print(string(out))
				return nil
			default:
				return errors.Errorf("unknown format %q, want json or yaml", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format, json or yaml")
	return cmd
}

// upsertPipeline stages the preprocessing script and installs the pipeline;
// run-all reuses it.
func upsertPipeline(ctx context.Context, w *workshop) (string, error) {
	if _, err := jobs.StageScript(ctx,
		s3manager.NewUploader(w.sess), w.cfg.Storage.Bucket, w.cfg.Storage.Prefix); err != nil {
		return "", err
	}
	p, err := workshopPipeline(w)
	if err != nil {
		return "", err
	}
	return pipeline.New(w.sess).Upsert(ctx, p)
}

func newPipelineUpsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upsert",
		Short: "Install the pipeline, creating or updating it in place",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			arn, err := upsertPipeline(ctx, w)
			if err != nil {
				return err
			}
			cmd.Println(arn)
			return nil
		},
	}
}

func newPipelineRunCmd() *cobra.Command {
	var overrides map[string]string
	var detach bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start one pipeline execution and wait for it to finish",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			client := pipeline.New(w.sess)
			arn, err := client.Start(ctx, w.cfg.Pipeline.Name, overrides)
			if err != nil {
				return err
			}
			cmd.Println(arn)
			if detach {
				return nil
			}
			status, err := client.WaitExecution(ctx, arn)
			if err != nil {
				return err
			}
			printExecution(cmd, status)
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&overrides, "param", nil,
		"pipeline parameter override, repeatable as --param Name=value")
	cmd.Flags().BoolVar(&detach, "detach", false, "start the execution without waiting")
	return cmd
}

func newPipelineStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-arn>",
		Short: "Print an execution's status with its per-step states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			status, err := pipeline.New(w.sess).Describe(ctx, args[0])
			if err != nil {
				return err
			}
			printExecution(cmd, status)
			return nil
		},
	}
}

func printExecution(cmd *cobra.Command, status pipeline.ExecutionStatus) {
	cmd.Printf("%s: %s\n", status.ARN, status.Status)
	for _, step := range status.Steps {
		line := "  " + step.Name + ": " + step.Status
		if step.FailureReason != "" {
			line += " (" + step.FailureReason + ")"
		}
		cmd.Println(line)
	}
}
