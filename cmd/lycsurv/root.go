package main

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HatiCode/lycsurv/cmd/lycsurv/config"
	"github.com/HatiCode/lycsurv/pkg/features"
	"github.com/HatiCode/lycsurv/pkg/survival"
)

const longDescription = `lycsurv predicts Lyman continuum and Lyman alpha escape from galaxy
properties with survival regressions fitted to a reference catalog in which
non-detections are upper limits.`

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "lycsurv",
		Short:         "Survival analysis of Lyman continuum escape",
		Long:          longDescription,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cmd, cfgFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lycsurv.yaml or ./config/lycsurv.yaml)")

	pf.String(config.KeyLogLevel, config.DefaultLogLevel, "Log level: debug, info, warn, error")
	pf.String(config.KeyLogFormat, config.DefaultLogFormat, "Log format: text or json")
	pf.BoolP(config.KeyVerbose, "v", false, "Print coefficient summaries and covariate means")

	pf.String(config.KeyCatalog, "", "Reference catalog file")
	pf.String(config.KeyCatalogURL, "", "Reference catalog URL (instead of --catalog)")
	pf.String(config.KeyCatalogKind, config.DefaultCatalogKind, "Catalog format: csv or json")
	pf.String(config.KeyCatalogHeaders, "", `Extra HTTP headers for URL catalogs as a JSON object, e.g. {"Authorization":"Bearer x"}`)
	pf.String(config.KeyJSONRowsPath, "", "gjson path selecting the row array of a JSON catalog")
	pf.String(config.KeyComma, "", "CSV field delimiter (default ',')")
	pf.Duration(config.KeyHTTPTimeout, config.DefaultHTTPTimeout, "Timeout for catalog downloads")

	pf.StringP(config.KeyPredictors, "p", "", "Predictor list file, one column name per line")
	pf.StringSliceP(config.KeyResponses, "r", []string{config.DefaultResponse}, "Response variables: f_esc(LyC), f_esc(LyA), f(LyC), f(LyA)")
	pf.StringP(config.KeyMethod, "m", config.DefaultMethod, "Regression: coxph or weibull")
	pf.Float64(config.KeyDetectionThreshold, features.DefaultDetectionThreshold, "LyC rows with P(>N|B) below this are detections")
	pf.Bool(config.KeyWeighted, false, "Weight rows by the inverse variance of the response")
	pf.Bool(config.KeyRobust, true, "Sandwich variance for Cox coefficients")
	pf.Bool(config.KeyIntercept, true, "Fit an intercept in the Weibull scale")
	pf.String(config.KeyLevels, survival.DefaultLevels.String(), "Survival levels for lower, median and upper quantiles")
	pf.String(config.KeyConcordance, config.DefaultConcordance, "Concordance estimator: harrell or uno")
	pf.Int(config.KeyMaxIter, config.DefaultMaxIter, "Maximum optimiser iterations")
	pf.String(config.KeyMetricsFile, "", "Write Prometheus metrics to this textfile at exit")

	pf.String(config.KeyStore, config.DefaultStore, "Model store: memory or redis")
	pf.Duration(config.KeyStoreTTL, config.DefaultStoreTTL, "Lifetime of stored fits")
	pf.String(config.KeyRedisAddr, config.DefaultRedisAddr, "Redis server address")
	pf.String(config.KeyRedisPassword, "", "Redis password")
	pf.Int(config.KeyRedisDB, 0, "Redis database number")

	pf.Bool(config.KeyTLSEnabled, false, "Enable TLS for catalog downloads and Redis")
	pf.String(config.KeyTLSCAFile, "", "TLS CA certificate file")
	pf.String(config.KeyTLSCertFile, "", "TLS client certificate file")
	pf.String(config.KeyTLSKeyFile, "", "TLS client key file")
	pf.String(config.KeyTLSServerName, "", "Server name expected in the TLS certificate")

	root.AddCommand(newTrainCmd(v), newPredictCmd(v))
	return root
}

// initConfig layers the config file and environment under the flags of the
// command being run.
func initConfig(v *viper.Viper, cmd *cobra.Command, cfgFile string) error {
	config.SetDefaults(v)

	v.SetEnvPrefix("LYCSURV")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		return v.ReadInConfig()
	}

	v.SetConfigType("yaml")
	v.SetConfigName(".lycsurv")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	err := v.ReadInConfig()

	notFound := viper.ConfigFileNotFoundError{}
	if err != nil && errors.As(err, &notFound) {
		v.SetConfigName("lycsurv")
		v.AddConfigPath("./config")
		err = v.ReadInConfig()
	}
	if err != nil && !errors.As(err, &notFound) {
		return err
	}
	return nil
}
