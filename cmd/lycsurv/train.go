package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HatiCode/lycsurv/cmd/lycsurv/config"
	"github.com/HatiCode/lycsurv/cmd/lycsurv/logger"
	"github.com/HatiCode/lycsurv/cmd/lycsurv/metrics"
	"github.com/HatiCode/lycsurv/pkg/export"
)

func newTrainCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the reference catalog and report goodness of fit",
		Long: `Fit a survival regression per response variable, print R², adjusted R²,
RMS and the concordance index, and store the fits for later predictions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, v)
		},
	}
	cmd.Flags().String(config.KeyTrainOutput, "", "Write observed and predicted training values to this CSV")
	cmd.Flags().String(config.KeySummaryOutput, "", "Write the fit summaries to this YAML file")
	return cmd
}

// setup resolves configuration and builds the logger, metrics, store and
// runner shared by the commands.
func setup(cmd *cobra.Command, v *viper.Viper) (*config.Config, *Runner, func(), error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, nil, err
	}

	log := logger.New(cfg, cmd.ErrOrStderr())
	slog.SetDefault(log)
	log.Debug("starting lycsurv", "version", version, "command", cmd.Name(), "config_file", v.ConfigFileUsed())

	m := metrics.New(cfg.Method)
	store, closeStore, err := newStore(cmd.Context(), cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}

	runner, err := NewRunner(cfg, store, log, m)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}

	done := func() {
		closeStore()
		if cfg.MetricsFile != "" {
			if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
				log.Error("failed to write metrics", "path", cfg.MetricsFile, "error", err)
			}
		}
	}
	return cfg, runner, done, nil
}

func runTrain(cmd *cobra.Command, v *viper.Viper) error {
	cfg, runner, done, err := setup(cmd, v)
	if err != nil {
		return err
	}
	defer done()

	results, err := runner.Train(cmd.Context())
	if err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), results, cfg.Verbose)

	if cfg.TrainOutput != "" {
		var rows []export.TrainingRow
		for _, res := range results {
			rows = append(rows, res.Training...)
		}
		err := writeOutput(cfg.TrainOutput, cmd.OutOrStdout(), func(w io.Writer) error {
			return export.WriteTraining(w, rows)
		})
		if err != nil {
			return err
		}
	}

	if cfg.SummaryOutput != "" {
		docs := make([]export.SummaryDoc, 0, len(results))
		for _, res := range results {
			docs = append(docs, export.SummaryDoc{
				RunID:    runner.RunID(),
				Response: string(res.Response),
				Method:   res.Summary.Method,
				Fit:      res.Summary,
				Stats:    res.Stats,
			})
		}
		err := writeOutput(cfg.SummaryOutput, cmd.OutOrStdout(), func(w io.Writer) error {
			return export.WriteSummary(w, docs)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
