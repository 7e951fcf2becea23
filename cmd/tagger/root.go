package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/config"
	"github.com/example/go-tagger/internal/runtime/tensor"
	"github.com/example/go-tagger/internal/server"
)

const (
	groupTag   = "tag"
	groupModel = "model"
	groupServe = "serve"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "tagger",
		Short:         "Sequence tagger with CRF decoding and dictionary overrides",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			tensor.SetWorkers(loaded.Runtime.Workers)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddGroup(
		&cobra.Group{ID: groupTag, Title: "Tagging:"},
		&cobra.Group{ID: groupModel, Title: "Models:"},
		&cobra.Group{ID: groupServe, Title: "Serving:"},
	)
	addGrouped(cmd, groupTag, newPredictCmd(), newEvaluateCmd(), newDictCmd())
	addGrouped(cmd, groupModel, newTrainCmd(), newModelCmd(), newBenchCmd(), newDoctorCmd())
	addGrouped(cmd, groupServe, newServeCmd(), newHealthCmd())

	return cmd
}

func addGrouped(root *cobra.Command, group string, cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.GroupID = group
		root.AddCommand(c)
	}
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	// Unknown levels fall back to info.
	lvl, _ := server.ParseLogLevel(levelStr)

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.ModelDir == "" {
		return config.Config{}, errors.New("tagger: paths.model_dir is not set")
	}

	return activeCfg, nil
}
