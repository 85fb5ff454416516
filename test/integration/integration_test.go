//go:build integration

// Package integration runs the fit → store → restore → predict path against
// a real Redis container and a catalog served over HTTP.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/HatiCode/lycsurv/pkg/catalog"
	"github.com/HatiCode/lycsurv/pkg/features"
	"github.com/HatiCode/lycsurv/pkg/httpx"
	"github.com/HatiCode/lycsurv/pkg/models"
	"github.com/HatiCode/lycsurv/pkg/storage"
	lycsurvtls "github.com/HatiCode/lycsurv/pkg/tls"
)

// catalogDocument builds a JSON catalog nested under data.galaxies.
func catalogDocument(t *testing.T, n int) []byte {
	t.Helper()
	rng := rand.New(rand.NewPCG(5, 6))

	galaxies := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		o32, beta := rng.NormFloat64(), rng.NormFloat64()
		f := 0.01 + 0.3/(1+math.Exp(-(0.9*beta-0.6*o32)))*math.Exp(0.25*rng.NormFloat64())
		p := 0.3
		if rng.Float64() < 0.65 {
			p = 0.001
		}
		galaxies = append(galaxies, map[string]any{
			"ID":         fmt.Sprintf("J%04d", i),
			"O32":        o32,
			"beta_UV":    beta,
			"f_esc(LyC)": f,
			"P(>N|B)":    p,
		})
	}
	doc, err := json.Marshal(map[string]any{"data": map[string]any{"galaxies": galaxies}})
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	return strings.TrimPrefix(endpoint, "redis://")
}

func TestFitStoreRestore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	doc := catalogDocument(t, 80)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer survey" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	client, err := httpx.NewClient(lycsurvtls.Config{}, 10*time.Second)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	src, err := catalog.New("json", map[string]string{
		"url":      srv.URL,
		"rowsPath": "data.galaxies",
		"headers":  `{"Authorization":"Bearer survey"}`,
	}, client)
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	frame, err := src.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	predictors := []string{"O32", "beta_UV"}
	ds, report, err := features.NewBuilder(logger).Build(frame, features.EscapeLyC, predictors)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if report.Kept != 80 {
		t.Errorf("Kept = %d, want 80", report.Kept)
	}

	store, err := storage.NewRedisStore(ctx, storage.RedisOptions{Addr: startRedis(t), TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer store.Close()

	for _, method := range []string{models.MethodCoxPH, models.MethodWeibull} {
		t.Run(method, func(t *testing.T) {
			model, err := models.New(method, models.DefaultOptions())
			if err != nil {
				t.Fatal(err)
			}
			if err := model.Fit(ctx, ds); err != nil {
				t.Fatalf("Fit() error = %v", err)
			}
			params, err := model.Params()
			if err != nil {
				t.Fatalf("Params() error = %v", err)
			}

			key := storage.Key(frame.Checksum, method, string(features.EscapeLyC), strings.Join(predictors, ","))
			snap := storage.Snapshot{
				Key:        key,
				RunID:      "integration",
				Method:     method,
				Response:   string(features.EscapeLyC),
				Predictors: predictors,
				FittedAt:   time.Now().UTC(),
				Rows:       ds.Len(),
				Events:     ds.EventCount(),
				Params:     params,
			}
			if err := store.Put(ctx, snap); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, found, err := store.Get(ctx, key)
			if err != nil || !found {
				t.Fatalf("Get() = found %v, error %v", found, err)
			}
			restored, err := models.Restore(got.Params, models.DefaultOptions())
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}

			want, err := model.Predict(ctx, ds.X)
			if err != nil {
				t.Fatal(err)
			}
			have, err := restored.Predict(ctx, ds.X)
			if err != nil {
				t.Fatalf("restored Predict() error = %v", err)
			}
			if diff := cmp.Diff(want, have); diff != "" {
				t.Errorf("predictions after redis round trip (-want +got):\n%s", diff)
			}
		})
	}
}
