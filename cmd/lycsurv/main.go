// Command lycsurv fits survival regressions of Lyman continuum and Lyman
// alpha escape to a reference galaxy catalog and predicts escape fractions,
// with one-sigma uncertainties, for new objects.
//
// Non-detections are upper limits. lycsurv treats a detection as the event
// and reflects responses into durations 1 - f, so upper limits become
// right-censored durations that Cox proportional hazards and Weibull AFT
// models handle directly.
//
// Usage:
//
//	lycsurv train \
//	  --catalog=tab/lzlcs.csv \
//	  --predictors=tab/predictors.txt \
//	  --responses='f_esc(LyC)' \
//	  --method=coxph --verbose
//
//	lycsurv predict \
//	  --catalog=tab/lzlcs.csv \
//	  --predictors=tab/predictors.txt \
//	  --responses='f_esc(LyC),f_esc(LyA)' \
//	  --targets=tab/targets.csv \
//	  --output=predictions.csv
//
// Fits are cached in a model store (memory or Redis) keyed by the catalog
// contents, response, predictors and fit options, so repeated predictions
// against the same reference catalog skip the fit.
//
// Every flag can also be set in a YAML config file or through LYCSURV_*
// environment variables; see the config package.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
