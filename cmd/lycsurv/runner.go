package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/lycsurv/cmd/lycsurv/config"
	"github.com/HatiCode/lycsurv/cmd/lycsurv/metrics"
	"github.com/HatiCode/lycsurv/pkg/catalog"
	"github.com/HatiCode/lycsurv/pkg/export"
	"github.com/HatiCode/lycsurv/pkg/features"
	"github.com/HatiCode/lycsurv/pkg/httpx"
	"github.com/HatiCode/lycsurv/pkg/models"
	"github.com/HatiCode/lycsurv/pkg/storage"
	"github.com/HatiCode/lycsurv/pkg/survival"
)

// Runner orchestrates one run: load → build → fit → assess → store, and
// for predictions restore-or-fit → predict.
type Runner struct {
	cfg     *config.Config
	store   storage.Store
	builder *features.Builder
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	runID   string
	now     func() time.Time
}

// NewRunner creates a Runner. store and m may be nil.
func NewRunner(cfg *config.Config, store storage.Store, logger *slog.Logger, m *metrics.Metrics) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := httpx.NewClient(cfg.TLS, cfg.HTTPTimeout)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	builder := features.NewBuilder(logger)
	builder.DetectionThreshold = cfg.DetectionThreshold
	builder.Weighted = cfg.Weighted

	return &Runner{
		cfg:     cfg,
		store:   store,
		builder: builder,
		client:  client,
		logger:  logger,
		metrics: m,
		runID:   runID,
		now:     time.Now,
	}, nil
}

// RunID identifies the run in logs and stored snapshots.
func (r *Runner) RunID() string { return r.runID }

// TrainResult is the outcome of fitting one response.
type TrainResult struct {
	Response features.Response
	Model    models.Model
	Report   features.Report
	Summary  models.Summary

	// Stats is nil when the fit could not be assessed.
	Stats    *models.Stats
	Training []export.TrainingRow
}

// PredictResult holds one prediction column per response, aligned with IDs.
type PredictResult struct {
	IDs     []string
	Columns []export.Column

	// Reused counts responses whose fit came from the store.
	Reused int
}

// Train fits and assesses every configured response and stores the fits.
func (r *Runner) Train(ctx context.Context) ([]TrainResult, error) {
	frame, err := r.loadCatalog(ctx, "")
	if err != nil {
		return nil, err
	}
	predictors, err := r.loadPredictors()
	if err != nil {
		return nil, err
	}

	results := make([]TrainResult, 0, len(r.cfg.Responses))
	for _, resp := range r.cfg.Responses {
		res, err := r.train(ctx, frame, resp, predictors)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", resp, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Predict predicts every target row for every configured response. Targets
// default to the reference catalog.
func (r *Runner) Predict(ctx context.Context) (*PredictResult, error) {
	frame, err := r.loadCatalog(ctx, "")
	if err != nil {
		return nil, err
	}
	targetFrame := frame
	if r.cfg.Targets != "" {
		if targetFrame, err = r.loadCatalog(ctx, r.cfg.Targets); err != nil {
			return nil, fmt.Errorf("targets: %w", err)
		}
	}
	predictors, err := r.loadPredictors()
	if err != nil {
		return nil, err
	}

	targets, err := r.builder.Targets(targetFrame, predictors)
	if err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}
	x, idx := targets.Rows()

	out := &PredictResult{IDs: r.ids(targetFrame)}
	for _, resp := range r.cfg.Responses {
		model, reused, err := r.model(ctx, frame, resp, predictors)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", resp, err)
		}
		if reused {
			out.Reused++
		}

		preds, err := r.predict(ctx, resp, model, x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", resp, err)
		}

		col := export.Column{
			Response:    string(resp),
			Predictions: make([]survival.Prediction, targets.Len()),
			Valid:       make([]bool, targets.Len()),
		}
		reflected := true
		if params, err := model.Params(); err == nil {
			reflected = params.Reflected
		}
		limits := map[string]int{}
		degenerate := 0
		for k, i := range idx {
			p := preds[k]
			col.Predictions[i] = p
			col.Valid[i] = true
			limits[survival.Limit(p.Flag, reflected)]++
			if p.Degenerate {
				degenerate++
			}
			if r.metrics != nil {
				r.metrics.RecordPrediction(string(resp), p.Flag, p.Degenerate)
			}
		}
		out.Columns = append(out.Columns, col)

		r.logger.Info("predicted response",
			"response", resp,
			"rows", targets.Len(),
			"unpredictable", targets.Missing(),
			"upper_limits", limits[survival.LimitUpper],
			"lower_limits", limits[survival.LimitLower],
			"degenerate", degenerate,
			"reused_fit", reused,
		)
		if degenerate > 0 {
			r.logger.Warn("flat survival curve, uncertainties forced to the response bounds",
				"response", resp, "rows", degenerate)
		}
	}
	return out, nil
}

// loadCatalog loads the reference catalog, or the catalog at path.
func (r *Runner) loadCatalog(ctx context.Context, path string) (*catalog.Frame, error) {
	start := time.Now()

	src, err := catalog.New(r.cfg.CatalogKind, r.cfg.CatalogConfig(path), r.client)
	if err != nil {
		return nil, err
	}
	frame, err := src.Load(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordError("catalog", "load_failed")
		}
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordLoad(duration.Seconds())
	}
	r.logger.Info("loaded catalog",
		"source", src.Name(),
		"rows", frame.Len(),
		"columns", len(frame.Columns),
		"duration_ms", duration.Milliseconds(),
	)
	return frame, nil
}

func (r *Runner) loadPredictors() ([]string, error) {
	predictors, err := catalog.ReadPredictors(r.cfg.PredictorsFile)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("read predictors", "predictors", strings.Join(predictors, ","))
	return predictors, nil
}

func (r *Runner) key(frame *catalog.Frame, resp features.Response, predictors []string) string {
	return storage.Key(frame.Checksum, r.cfg.Method, string(resp), strings.Join(predictors, ","), r.cfg.Fingerprint())
}

// model restores the fit for resp from the store, fitting when there is
// none or Refit is set.
func (r *Runner) model(ctx context.Context, frame *catalog.Frame, resp features.Response, predictors []string) (models.Model, bool, error) {
	if r.store != nil && !r.cfg.Refit {
		key := r.key(frame, resp, predictors)
		snap, found, err := r.store.Get(ctx, key)
		switch {
		case err != nil:
			if r.metrics != nil {
				r.metrics.RecordError("store", "get_failed")
			}
			r.logger.Warn("model store lookup failed, fitting", "response", resp, "error", err)
		case found:
			m, err := models.Restore(snap.Params, r.cfg.ModelOptions())
			if err == nil {
				if r.metrics != nil {
					r.metrics.RecordReused(string(resp))
				}
				r.logger.Info("reusing stored fit",
					"response", resp, "fitted_at", snap.FittedAt, "fit_run_id", snap.RunID)
				return m, true, nil
			}
			r.logger.Warn("stored fit unusable, fitting", "response", resp, "error", err)
		}
	}

	res, err := r.train(ctx, frame, resp, predictors)
	if err != nil {
		return nil, false, err
	}
	return res.Model, false, nil
}

// train builds the training set for resp, fits, assesses and stores.
func (r *Runner) train(ctx context.Context, frame *catalog.Frame, resp features.Response, predictors []string) (TrainResult, error) {
	ds, report, err := r.builder.Build(frame, resp, predictors)
	if r.metrics != nil {
		r.metrics.RecordDropped(string(resp), "missing_predictors", report.MissingPredictors)
		r.metrics.RecordDropped(string(resp), "missing_response", report.MissingResponse)
		r.metrics.RecordDropped(string(resp), "invalid_weight", report.InvalidWeight)
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordError("features", "build_failed")
		}
		return TrainResult{}, fmt.Errorf("build training set: %w", err)
	}

	model, err := r.fit(ctx, resp, ds)
	if err != nil {
		return TrainResult{}, err
	}

	res := TrainResult{
		Response: resp,
		Model:    model,
		Report:   report,
		Summary:  model.Summary(),
	}
	if err := r.assess(ctx, frame, ds, &res); err != nil {
		return TrainResult{}, err
	}
	r.save(ctx, frame, resp, predictors, ds, res)
	return res, nil
}

func (r *Runner) fit(ctx context.Context, resp features.Response, ds models.Dataset) (models.Model, error) {
	start := time.Now()

	model, err := models.New(r.cfg.Method, r.cfg.ModelOptions())
	if err != nil {
		return nil, err
	}
	if err := model.Fit(ctx, ds); err != nil {
		if r.metrics != nil {
			reason := "fit_failed"
			var ce *models.ConvergenceError
			if errors.As(err, &ce) {
				reason = "convergence"
			}
			r.metrics.RecordError("model", reason)
		}
		return nil, fmt.Errorf("fit %s: %w", r.cfg.Method, err)
	}

	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordFit(string(resp), duration.Seconds())
	}
	s := model.Summary()
	r.logger.Info("fitted model",
		"response", resp,
		"method", model.Name(),
		"rows", s.Observations,
		"events", s.Events,
		"iterations", s.Iterations,
		"log_likelihood", s.LogLikelihood,
		"duration_ms", duration.Milliseconds(),
	)
	return model, nil
}

// assess compares in-sample medians with the observed responses. Failing
// statistics are logged, not fatal; prediction errors are.
func (r *Runner) assess(ctx context.Context, frame *catalog.Frame, ds models.Dataset, res *TrainResult) error {
	predicted, err := res.Model.PredictMedian(ctx, ds.X)
	if err != nil {
		return fmt.Errorf("in-sample prediction: %w", err)
	}
	observed := ds.Responses()

	ids := r.ids(frame)
	for i := range observed {
		res.Training = append(res.Training, export.TrainingRow{
			Response:  string(res.Response),
			Row:       ds.Index[i],
			ID:        ids[ds.Index[i]],
			Observed:  observed[i],
			Predicted: predicted[i],
			Detected:  ds.Events[i],
		})
	}

	stats, err := models.Assess(observed, predicted, ds.Events, len(ds.Predictors), models.AssessOptions{
		Concordance: r.cfg.Concordance,
		Reflected:   ds.Reflected,
	})
	if err != nil {
		r.logger.Warn("goodness of fit unavailable", "response", res.Response, "error", err)
		return nil
	}
	res.Stats = &stats

	if r.metrics != nil {
		resp := string(res.Response)
		r.metrics.SetGoodnessOfFit(resp, "r2", stats.R2)
		r.metrics.SetGoodnessOfFit(resp, "r2_adj", stats.R2Adj)
		r.metrics.SetGoodnessOfFit(resp, "rms", stats.RMS)
		r.metrics.SetGoodnessOfFit(resp, "concordance", stats.Concordance)
	}
	r.logger.Info("assessed fit",
		"response", res.Response,
		"r2", stats.R2,
		"r2_adj", stats.R2Adj,
		"rms", stats.RMS,
		"concordance", stats.Concordance,
		"estimator", stats.Estimator,
		"excluded", stats.Excluded,
	)
	return nil
}

// save stores the fit. The store is a cache, so failures are logged.
func (r *Runner) save(ctx context.Context, frame *catalog.Frame, resp features.Response, predictors []string, ds models.Dataset, res TrainResult) {
	if r.store == nil {
		return
	}
	params, err := res.Model.Params()
	if err != nil {
		r.logger.Warn("fit not stored", "response", resp, "error", err)
		return
	}

	snap := storage.Snapshot{
		Key:        r.key(frame, resp, predictors),
		RunID:      r.runID,
		Method:     res.Model.Name(),
		Response:   string(resp),
		Predictors: predictors,
		FittedAt:   r.now().UTC(),
		Rows:       ds.Len(),
		Events:     ds.EventCount(),
		Params:     params,
		Stats:      res.Stats,
	}
	if err := r.store.Put(ctx, snap); err != nil {
		if r.metrics != nil {
			r.metrics.RecordError("store", "put_failed")
		}
		r.logger.Error("failed to store fit", "response", resp, "error", err)
		return
	}
	r.logger.Debug("stored fit", "response", resp, "key", snap.Key)
}

// ids returns the identifier of every frame row, falling back to the row
// number when the id column is absent.
func (r *Runner) ids(frame *catalog.Frame) []string {
	ids := make([]string, frame.Len())
	if !frame.Has(r.cfg.IDColumn) {
		r.logger.Warn("id column not found, using row numbers", "column", r.cfg.IDColumn)
		for i := range ids {
			ids[i] = strconv.Itoa(i)
		}
		return ids
	}
	for i := range ids {
		ids[i] = frame.Text(i, r.cfg.IDColumn)
	}
	return ids
}

func (r *Runner) predict(ctx context.Context, resp features.Response, model models.Model, x [][]float64) ([]survival.Prediction, error) {
	start := time.Now()

	preds, err := model.Predict(ctx, x)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordError("model", "predict_failed")
		}
		return nil, fmt.Errorf("predict: %w", err)
	}

	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordPredict(string(resp), duration.Seconds())
	}
	r.logger.Debug("predicted rows", "response", resp, "rows", len(x), "duration_ms", duration.Milliseconds())
	return preds, nil
}
