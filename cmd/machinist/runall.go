package main

import (
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/machinist-ai/machinist/internal/dataset"
	"github.com/machinist-ai/machinist/internal/jobs"
	"github.com/machinist-ai/machinist/internal/registry"
	"github.com/machinist-ai/machinist/internal/serving"
	"github.com/machinist-ai/machinist/internal/stack"
)

func newRunAllCmd() *cobra.Command {
	var skipSmoke bool
	cmd := &cobra.Command{
		Use:   "run-all [file]",
		Short: "Run the whole workshop: network, data, training, catalog, endpoint",
		Long: "Run the whole workshop end to end: bring up the network stack and " +
			"stage the dataset in parallel, run the preprocessing and training " +
			"jobs inside the network, catalog and approve the model, deploy the " +
			"endpoint, and score one held-out record against it.",
		Args: cobra.MaximumNArgs(1),
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

			// The network stack and the dataset staging touch disjoint
			// services, so they run concurrently.
			var outputs stack.Outputs
			var test []dataset.Record
			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				var err error
				outputs, err = stack.New(w.sess).Up(groupCtx, stackPlan(w))
				return err
			})
			group.Go(func() error {
				records, err := dataset.ReadFile(file)
				if err != nil {
					return err
				}
				var train []dataset.Record
				train, test, err = dataset.Split(
					records, w.cfg.Dataset.TrainRatio, w.cfg.Dataset.Seed)
				if err != nil {
					return err
				}
				stager := dataset.NewStager(
					s3manager.NewUploader(w.sess), w.cfg.Storage.Bucket, w.cfg.Storage.Prefix)
				if _, err := stager.StageFile(groupCtx, file); err != nil {
					return err
				}
				_, err = stager.StageSplit(groupCtx, train, test)
				return err
			})
			if err := group.Wait(); err != nil {
				return err
			}

			vpc := &jobs.VpcAttachment{
				SubnetIDs:        outputs.PrivateSubnetIDs,
				SecurityGroupIDs: []string{outputs.SecurityGroupID},
			}
			manager := jobs.New(w.sess)

			prepSpec, err := processingSpec(ctx, w, false)
			if err != nil {
				return err
			}
			prepSpec.VPC = vpc
			prep, err := manager.RunProcessing(ctx, prepSpec)
			if err != nil {
				return err
			}
			if _, err := manager.Wait(ctx, prep); err != nil {
				return err
			}

			trainSpec, err := trainingSpec(ctx, w, false)
			if err != nil {
				return err
			}
			trainSpec.VPC = vpc
			training, err := manager.RunTraining(ctx, trainSpec)
			if err != nil {
				return err
			}
			status, err := manager.Wait(ctx, training)
			if err != nil {
				return err
			}
			cmd.Printf("artifact: %s\n", status.ArtifactURI)

			arn, err := registerModel(ctx, w, status.ArtifactURI,
				"trained by run-all from "+file)
			if err != nil {
				return err
			}
			if err := registry.New(w.sess).SetApproval(ctx, arn,
				registry.ApprovalApproved, "approved by run-all"); err != nil {
				return err
			}
			cmd.Printf("approved: %s\n", arn)

			if err := deployEndpoint(ctx, w); err != nil {
				return err
			}
			cmd.Printf("endpoint %s is in service\n", w.cfg.Serving.EndpointName)

			if skipSmoke || len(test) == 0 {
				return nil
			}
			record := test[0].Features()
			score, err := serving.NewInvoker(w.sess).Invoke(
				ctx, w.cfg.Serving.EndpointName, record)
			if err != nil {
				return err
			}
			cmd.Printf("smoke record:  %s\n", record)
			cmd.Printf("smoke score:   %g\n", score.Value)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipSmoke, "skip-smoke", false,
		"skip the held-out record scored against the endpoint at the end")
	return cmd
}
