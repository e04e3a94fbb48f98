package main

import (
	"context"

	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/machinist-ai/machinist/internal/dataset"
)

func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Split the telemetry dataset and stage it to object storage",
	}
	cmd.AddCommand(newDatasetSplitCmd(), newDatasetStageCmd())
	return cmd
}

func datasetFile(w *workshop, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if w.cfg.Dataset.File != "" {
		return w.cfg.Dataset.File, nil
	}
	return "", errors.New("no dataset file: pass one as an argument or set dataset.file")
}

func newDatasetSplitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split [file]",
		Short: "Split the dataset locally and report class balance per side",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			file, err := datasetFile(w, args)
			if err != nil {
				return err
			}
			records, err := dataset.ReadFile(file)
			if err != nil {
				return err
			}
			train, test, err := dataset.Split(records, w.cfg.Dataset.TrainRatio, w.cfg.Dataset.Seed)
			if err != nil {
				return err
			}
			cmd.Printf("records: %d\n", len(records))
			cmd.Printf("train:   %d (failure rate %.4f)\n", len(train), dataset.FailureRate(train))
			cmd.Printf("test:    %d (failure rate %.4f)\n", len(test), dataset.FailureRate(test))
			return nil
		},
	}
}

func newDatasetStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage [file]",
		Short: "Upload the raw dataset and its train/test split",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			file, err := datasetFile(w, args)
			if err != nil {
				return err
			}
			staged, err := stageDataset(ctx, w, file)
			if err != nil {
				return err
			}
			cmd.Printf("raw:   %s\n", staged.RawURI)
			cmd.Printf("train: %s\n", staged.TrainURI)
			cmd.Printf("test:  %s\n", staged.TestURI)
			return nil
		},
	}
}

// stageDataset reads, splits, and uploads the dataset; run-all reuses it.
func stageDataset(ctx context.Context, w *workshop, file string) (dataset.Staged, error) {
	records, err := dataset.ReadFile(file)
	if err != nil {
		return dataset.Staged{}, err
	}
	train, test, err := dataset.Split(records, w.cfg.Dataset.TrainRatio, w.cfg.Dataset.Seed)
	if err != nil {
		return dataset.Staged{}, err
	}
	stager := dataset.NewStager(
		s3manager.NewUploader(w.sess), w.cfg.Storage.Bucket, w.cfg.Storage.Prefix)
	rawURI, err := stager.StageFile(ctx, file)
	if err != nil {
		return dataset.Staged{}, err
	}
	staged, err := stager.StageSplit(ctx, train, test)
	if err != nil {
		return dataset.Staged{}, err
	}
	staged.RawURI = rawURI
	return staged, nil
}
