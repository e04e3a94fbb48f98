package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/internal/registry"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the model catalog and its approval gate",
	}
	cmd.AddCommand(
		newModelRegisterCmd(),
		newModelListCmd(),
		newModelApprovalCmd("approve", registry.ApprovalApproved,
			"Clear a model package for deployment"),
		newModelApprovalCmd("reject", registry.ApprovalRejected,
			"Block a model package from deployment"),
	)
	return cmd
}

// registerModel ensures the group exists and catalogs the artifact under the
// configured initial approval status.
func registerModel(
	ctx context.Context, w *workshop, artifactURI, description string,
) (string, error) {
	approval, err := registry.ParseApproval(w.cfg.Registry.InitialApproval)
	if err != nil {
		return "", err
	}
	image, err := cloud.AlgorithmImage(
		w.cfg.Cloud.Region, cloud.AlgorithmXGBoost, w.cfg.Training.ImageTag)
	if err != nil {
		return "", err
	}
	reg := registry.New(w.sess)
	if err := reg.EnsureGroup(ctx, w.cfg.Registry.Group,
		"equipment failure prediction models"); err != nil {
		return "", err
	}
	return reg.Register(ctx, registry.RegisterInput{
		Group:       w.cfg.Registry.Group,
		ArtifactURI: artifactURI,
		Image:       image,
		Description: description,
		Approval:    approval,
	})
}

func newModelRegisterCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "register <artifact-uri>",
		Short: "Add a trained model artifact to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			arn, err := registerModel(ctx, w, args[0], description)
			if err != nil {
				return err
			}
			cmd.Println(arn)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "model package description")
	return cmd
}

func newModelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the catalog's model packages, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			packages, err := registry.New(w.sess).List(ctx, w.cfg.Registry.Group)
			if err != nil {
				return err
			}
			for _, pkg := range packages {
				cmd.Printf("v%-4d %-22s %s  %s\n",
					pkg.Version, pkg.Approval, pkg.CreatedAt.Format("2006-01-02 15:04"), pkg.ARN)
			}
			return nil
		},
	}
}

func newModelApprovalCmd(use string, approval registry.Approval, short string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   use + " <package-arn>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			return registry.New(w.sess).SetApproval(ctx, args[0], approval, note)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reason recorded with the decision")
	return cmd
}
