package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/machinist-ai/machinist/internal/gateway"
	"github.com/machinist-ai/machinist/internal/serving"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the public HTTP prediction gateway",
	}
	cmd.AddCommand(newGatewayDeployCmd(), newGatewayServeCmd())
	return cmd
}

func newGatewayDeployCmd() *cobra.Command {
	var binary string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the serverless function and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			spec := w.cfg.GatewaySpec()
			if binary != "" {
				spec.BinaryPath = binary
			}
			url, err := gateway.New(w.sess, w.cfg.Cloud.Region, w.account).Deploy(ctx, spec)
			if err != nil {
				return err
			}
			cmd.Println(url)
			return nil
		},
	}
	cmd.Flags().StringVar(&binary, "binary", "",
		"path to the machinist-gateway binary built for linux/amd64")
	return cmd
}

const serveShutdownWindow = 10 * time.Second

func newGatewayServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the prediction gateway locally against the live endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			w, err := loadWorkshop(ctx)
			if err != nil {
				return err
			}
			handler := gateway.NewHandler(
				w.cfg.Serving.EndpointName, serving.NewInvoker(w.sess))
			e := gateway.NewServer(handler)
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(
					context.Background(), serveShutdownWindow)
				defer cancel()
				_ = e.Shutdown(shutdownCtx)
			}()
			err = e.Start(w.cfg.Gateway.ListenAddr)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
}
