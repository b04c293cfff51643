package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jingkaihe/skillreg/pkg/logger"
	"github.com/jingkaihe/skillreg/pkg/telemetry"
	"github.com/jingkaihe/skillreg/pkg/version"
)

var (
	tracer          = telemetry.Tracer("skillreg.cli")
	shutdownTracing func(context.Context) error
)

// initTracing builds the telemetry config from viper and installs the tracer provider
func initTracing(ctx context.Context) (func(context.Context) error, error) {
	config := telemetry.DefaultConfig()
	config.Enabled = viper.GetBool("tracing.enabled")
	config.ServiceVersion = version.Get().Version
	if sampler := viper.GetString("tracing.sampler"); sampler != "" {
		config.SamplerType = sampler
	}
	config.SamplerRatio = viper.GetFloat64("tracing.ratio")

	return telemetry.InitTracer(ctx, config)
}

// flushTracing exports pending spans; safe to call more than once
func flushTracing(ctx context.Context) {
	if shutdownTracing == nil {
		return
	}
	shutdown := shutdownTracing
	shutdownTracing = nil
	if err := shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.G(ctx).WithError(err).Debug("failed to flush traces")
	}
}

// withTracing wraps the command's RunE in a "cli.command" span
func withTracing(cmd *cobra.Command) *cobra.Command {
	originalRunE := cmd.RunE

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		attrs := []attribute.KeyValue{
			attribute.String("command.name", cmd.Name()),
			attribute.String("command.path", cmd.CommandPath()),
			attribute.Int("args.count", len(args)),
		}
		cmd.Flags().Visit(func(flag *pflag.Flag) {
			attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
		})

		ctx, span := tracer.Start(cmd.Context(), "cli.command", trace.WithAttributes(attrs...))
		defer span.End()
		cmd.SetContext(ctx)

		if err := originalRunE(cmd, args); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	return cmd
}

func init() {
	rootCmd.PersistentFlags().Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	rootCmd.PersistentFlags().String("tracing-sampler", "ratio", "Tracing sampler type (always, never, ratio)")
	rootCmd.PersistentFlags().Float64("tracing-ratio", 1, "Sampling ratio when using ratio sampler")

	viper.BindPFlag("tracing.enabled", rootCmd.PersistentFlags().Lookup("tracing-enabled"))
	viper.BindPFlag("tracing.sampler", rootCmd.PersistentFlags().Lookup("tracing-sampler"))
	viper.BindPFlag("tracing.ratio", rootCmd.PersistentFlags().Lookup("tracing-ratio"))
}
