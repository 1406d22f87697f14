// Package cli implements apctl, the operator and test tool of the controller.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// options are the global flags, overridable through APCTL_* variables
type options struct {
	predictionAddr string
	telemetryAddr  string
	adminURL       string
	output         string
	timeout        time.Duration
	logLevel       string
}

// NewRootCommand builds the apctl command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}
	v := viper.New()

	root := &cobra.Command{
		Use:   "apctl",
		Short: "Drive and inspect the apsteer flow controller",
		Long: `apctl sends prediction and telemetry datagrams to a running controller,
queries its admin API and can emulate a switch on the southbound channel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.predictionAddr = v.GetString("prediction-addr")
			opts.telemetryAddr = v.GetString("telemetry-addr")
			opts.adminURL = strings.TrimRight(v.GetString("admin-url"), "/")
			opts.output = v.GetString("output")
			opts.timeout = v.GetDuration("timeout")
			opts.logLevel = v.GetString("log-level")

			switch opts.output {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unsupported output format %q (want table, json or yaml)", opts.output)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("prediction-addr", "127.0.0.1:5001", "UDP address of the prediction listener")
	flags.String("telemetry-addr", "127.0.0.1:5002", "UDP address of the telemetry listener")
	flags.String("admin-url", "http://127.0.0.1:8080", "base URL of the admin API")
	flags.StringP("output", "o", "table", "output format: table, json, yaml")
	flags.Duration("timeout", 5*time.Second, "request timeout")
	flags.String("log-level", "info", "log level for long-running commands")

	v.SetEnvPrefix("APCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	root.AddCommand(
		newPredictCommand(opts),
		newBatchCommand(opts),
		newHandoffCommand(opts),
		newTelemetryCommand(opts),
		newSwitchesCommand(opts),
		newCongestionCommand(opts),
		newVehiclesCommand(opts),
		newDecisionCommand(opts),
		newSimSwitchCommand(opts),
	)
	return root
}

func (o *options) logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(o.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	return cfg.Build()
}
