package main

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HatiCode/lycsurv/cmd/lycsurv/config"
	"github.com/HatiCode/lycsurv/pkg/export"
)

func newPredictCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict escape fractions with uncertainties for target objects",
		Long: `Predict the median response and its one-sigma uncertainties for every row
of the target catalog (the reference catalog by default). Each response adds
four columns: the value, err-, err+ and a limit flag. Responses are fitted as
durations 1 - f, so a flag of +1 means the median lies below the smallest
response the fit resolves and the value is an upper limit; -1 means it lies
above the largest and the value is a lower limit. Rows whose survival curve
is flat are logged and counted in the metrics. Stored fits are reused when
the reference catalog, predictors and fit options are unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, v)
		},
	}
	cmd.Flags().StringP(config.KeyTargets, "t", "", "Catalog to predict (default: the reference catalog)")
	cmd.Flags().StringP(config.KeyOutput, "o", config.DefaultOutput, `Output CSV ("-" for stdout)`)
	cmd.Flags().String(config.KeyIDColumn, config.DefaultIDColumn, "Identifier column copied to the output")
	cmd.Flags().Bool(config.KeyRefit, false, "Ignore stored fits")
	return cmd
}

func runPredict(cmd *cobra.Command, v *viper.Viper) error {
	cfg, runner, done, err := setup(cmd, v)
	if err != nil {
		return err
	}
	defer done()

	res, err := runner.Predict(cmd.Context())
	if err != nil {
		return err
	}

	return writeOutput(cfg.Output, cmd.OutOrStdout(), func(w io.Writer) error {
		return export.WritePredictions(w, cfg.IDColumn, res.IDs, res.Columns)
	})
}
