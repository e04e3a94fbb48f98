package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/internal/config"
	"github.com/machinist-ai/machinist/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:          "machinist",
	Short:        "Drive the predictive-maintenance ML workflow end to end",
	Version:      version.Version,
	SilenceUsage: true,
}

var v *viper.Viper

// viperKeyDelimiter separates nested configuration keys. ".." keeps plain
// dots usable inside keys.
const viperKeyDelimiter = ".."

type configKey []string

func (c configKey) EnvName() string {
	return "MACHINIST_" + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, viperKeyDelimiter), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

func registerString(flags *pflag.FlagSet, name configKey, value string, usage string) {
	flags.String(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerBool(flags *pflag.FlagSet, name configKey, value bool, usage string) {
	flags.Bool(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

//nolint:gochecknoinit
func init() {
	v = viper.NewWithOptions(viper.KeyDelimiter(viperKeyDelimiter))
	v.SetTypeByDefaultValue(true)

	defaults := config.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	name := func(components ...string) configKey { return components }

	registerString(flags, name("config-file"),
		defaults.ConfigFile, "location of the machinist.yaml config file")
	registerString(flags, name("log", "level"),
		defaults.Log.Level, "choose logging level from [trace, debug, info, warn, error, fatal]")
	registerBool(flags, name("log", "color"),
		defaults.Log.Color, "output logs in color")
	registerString(flags, name("cloud", "region"),
		defaults.Cloud.Region, "platform region")
	registerString(flags, name("cloud", "profile"),
		defaults.Cloud.Profile, "named credentials profile")
	registerString(flags, name("cloud", "endpoint-url"),
		defaults.Cloud.EndpointURL, "platform endpoint override, for local emulators")
	registerString(flags, name("role-arn"),
		defaults.RoleARN, "execution role assumed by jobs, endpoints, and functions")
	registerString(flags, name("storage", "bucket"),
		defaults.Storage.Bucket, "artifact bucket, defaults to machinist-<region>-<account>")
	registerString(flags, name("storage", "prefix"),
		defaults.Storage.Prefix, "key prefix for all workshop objects")

	rootCmd.AddCommand(
		newInfraCmd(),
		newDatasetCmd(),
		newPreprocessCmd(),
		newTrainCmd(),
		newModelCmd(),
		newEndpointCmd(),
		newGatewayCmd(),
		newPipelineCmd(),
		newRunAllCmd(),
	)
}

// signalContext returns a context canceled by SIGINT or SIGTERM, so every
// long lifecycle wait can be abandoned cleanly.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// workshop is everything a command needs: the resolved config and the shared
// platform session.
type workshop struct {
	cfg     *config.Config
	sess    *session.Session
	account string
}

// loadWorkshop assembles the config, installs logging, builds the session,
// and resolves account-derived defaults.
func loadWorkshop(ctx context.Context) (*workshop, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	config.SetLogrus(cfg.Log)

	sess, err := cloud.NewSession(cfg.Cloud)
	if err != nil {
		return nil, err
	}
	account, err := cloud.CallerAccount(ctx, sts.New(sess))
	if err != nil {
		return nil, err
	}
	cfg.Resolve(account)
	return &workshop{cfg: cfg, sess: sess, account: account}, nil
}

func (w *workshop) s3URI(parts ...string) string {
	uri := "s3://" + w.cfg.Storage.Bucket + "/" + w.cfg.Storage.Prefix
	for _, part := range parts {
		uri += "/" + part
	}
	return uri
}
