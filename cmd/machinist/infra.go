package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/machinist-ai/machinist/internal/stack"
)

func newInfraCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infra",
		Short: "Manage the workshop's network infrastructure stack",
	}
	cmd.AddCommand(newInfraUpCmd(), newInfraOutputsCmd(), newInfraDownCmd())
	return cmd
}

func stackPlan(w *workshop) stack.Plan {
	plan := stack.DefaultPlan()
	plan.Name = w.cfg.Stack.Name
	plan.VpcCIDR = w.cfg.Stack.CIDR
	plan.Zones = w.cfg.Stack.Zones
	return plan
}

func newInfraUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Create or update the network stack and wait for it to settle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			outputs, err := stack.New(w.sess).Up(ctx, stackPlan(w))
			if err != nil {
				return err
			}
			printOutputs(cmd, outputs)
			return nil
		},
	}
}

func newInfraOutputsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "Print the deployed stack's exported values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			outputs, err := stack.New(w.sess).Outputs(ctx, w.cfg.Stack.Name)
			if err != nil {
				return err
			}
			printOutputs(cmd, outputs)
			return nil
		},
	}
}

func newInfraDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Delete the network stack and wait until it is gone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			return stack.New(w.sess).Down(ctx, w.cfg.Stack.Name)
		},
	}
}

func printOutputs(cmd *cobra.Command, outputs stack.Outputs) {
	cmd.Printf("VpcId:            %s\n", outputs.VpcID)
	cmd.Printf("PublicSubnetIds:  %s\n", strings.Join(outputs.PublicSubnetIDs, ","))
	cmd.Printf("PrivateSubnetIds: %s\n", strings.Join(outputs.PrivateSubnetIDs, ","))
	cmd.Printf("SecurityGroupId:  %s\n", outputs.SecurityGroupID)
}
