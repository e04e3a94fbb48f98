package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/machinist-ai/machinist/internal/registry"
	"github.com/machinist-ai/machinist/internal/serving"
)

func newEndpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage the real-time inference endpoint",
	}
	cmd.AddCommand(
		newEndpointDeployCmd(),
		newEndpointStatusCmd(),
		newEndpointInvokeCmd(),
		newEndpointDeleteCmd(),
	)
	return cmd
}

// deployEndpoint rolls the newest approved catalog package onto the endpoint.
// Only approved packages are deployable; there is no artifact bypass.
func deployEndpoint(ctx context.Context, w *workshop) error {
	pkg, err := registry.New(w.sess).LatestApproved(ctx, w.cfg.Registry.Group)
	if err != nil {
		return err
	}
	return serving.New(w.sess).Deploy(ctx, serving.Deployment{
		EndpointName:    w.cfg.Serving.EndpointName,
		InstanceType:    w.cfg.Serving.InstanceType,
		InstanceCount:   w.cfg.Serving.InstanceCount,
		RoleARN:         w.cfg.RoleARN,
		ModelPackageARN: pkg.ARN,
	})
}

func newEndpointDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the newest approved model and wait until in service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			if err := deployEndpoint(ctx, w); err != nil {
				return err
			}
			cmd.Printf("endpoint %s is in service\n", w.cfg.Serving.EndpointName)
			return nil
		},
	}
}

func newEndpointStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the endpoint's lifecycle state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			state, err := serving.New(w.sess).Describe(ctx, w.cfg.Serving.EndpointName)
			if err != nil {
				return err
			}
			cmd.Printf("%s: %s\n", w.cfg.Serving.EndpointName, state)
			return nil
		},
	}
}

func newEndpointInvokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <record>",
		Short: "Score one telemetry record against the live endpoint",
		Long: "Score one telemetry record against the live endpoint. The record " +
			"is a CSV line of six fields: product quality variant (L/M/H), air " +
			"temperature, process temperature, rotational speed, torque, and " +
			"tool wear.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			score, err := serving.NewInvoker(w.sess).Invoke(
				ctx, w.cfg.Serving.EndpointName, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("failure probability: %g\n", score.Value)
			return nil
		},
	}
}

func newEndpointDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Tear down the endpoint with its config and models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			return serving.New(w.sess).Delete(ctx, w.cfg.Serving.EndpointName)
		},
	}
}
