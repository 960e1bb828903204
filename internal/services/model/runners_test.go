package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPilot/internal/domain/models"
	"FinPilot/pkg/logger"
)

const currentDoc = `{
  "schemaVersion": 2,
  "runDate": "2025-01-02",
  "metrics": {
    "regime": {"label": "carry", "probabilities": {"carry": 0.7, "domestic_stress": 0.1}},
    "compositeScore": 1.4,
    "direction": "bullish",
    "weights": {"SPY": 0.6, "TLT": 0.4},
    "featureImportance": {"SPY": {"vix": {"value": 0.3, "rank": 1}}},
    "overlayDrawdownPct": -3.5
  }
}`

const legacyDoc = `{
  "schemaVersion": 1,
  "runDate": "2025-01-02T00:00:00Z",
  "metrics": {
    "regime": {"label": "risk-off"},
    "compositeScore": -0.5,
    "direction": "bearish",
    "weights": {"SPY": 0.2},
    "featureImportance": {"SPY": {"vix": 0.1, "curve": -0.4}}
  }
}`

var fixedNow = time.Date(2025, 1, 2, 6, 30, 0, 0, time.UTC)

func TestParseSnapshotCurrentSchema(t *testing.T) {
	snap, err := ParseSnapshot([]byte(currentDoc), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, models.CurrentSchemaVersion, snap.SchemaVersion)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), snap.RunDate)
	assert.Equal(t, "carry", snap.Metrics.Regime.Label)
	assert.Equal(t, models.DirectionBullish, snap.Metrics.Direction)
	assert.Equal(t, 1, snap.Metrics.FeatureImportance["SPY"]["vix"].Rank)
}

func TestParseSnapshotUpgradesLegacy(t *testing.T) {
	snap, err := ParseSnapshot([]byte(legacyDoc), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, models.CurrentSchemaVersion, snap.SchemaVersion)
	assert.Equal(t, 1, snap.Metrics.FeatureImportance["SPY"]["curve"].Rank)
	assert.Equal(t, 2, snap.Metrics.FeatureImportance["SPY"]["vix"].Rank)
}

func TestParseSnapshotRejectsMissingVersion(t *testing.T) {
	_, err := ParseSnapshot([]byte(`{"metrics": {"compositeScore": 1}}`), fixedNow)
	assert.ErrorIs(t, err, models.ErrUnsupportedSchema)

	_, err = ParseSnapshot([]byte(`{"schemaVersion": 2}`), fixedNow)
	assert.ErrorContains(t, err, "metrics missing")

	_, err = ParseSnapshot([]byte(`not json`), fixedNow)
	assert.Error(t, err)
}

func TestParseSnapshotDefaultsRunDate(t *testing.T) {
	snap, err := ParseSnapshot([]byte(`{"schemaVersion": 2, "metrics": {"compositeScore": 0}}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), snap.RunDate)
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileRunner(t *testing.T) {
	r := NewFileRunner(writeArtifact(t, currentDoc))
	snap, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.4, snap.Metrics.CompositeScore)

	_, err = NewFileRunner(filepath.Join(t.TempDir(), "missing.json")).Run(context.Background())
	assert.ErrorContains(t, err, "read model artifact")
}

func TestHTTPRunner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/run", r.URL.Path)
		_, _ = w.Write([]byte(currentDoc))
	}))
	defer srv.Close()

	snap, err := NewHTTPRunner(srv.URL+"/", "/run", time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "carry", snap.Metrics.Regime.Label)
}

func TestHTTPRunnerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPRunner(srv.URL, "/run", time.Second).Run(context.Background())
	assert.ErrorContains(t, err, "model crashed")
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandRunner(t *testing.T) {
	requireShell(t)
	path := writeArtifact(t, currentDoc)

	snap, err := NewCommandRunner("sh", []string{"-c", "cat " + path}, time.Minute).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DirectionBullish, snap.Metrics.Direction)
}

func TestCommandRunnerFailureIncludesStderr(t *testing.T) {
	requireShell(t)
	_, err := NewCommandRunner("sh", []string{"-c", "echo 'solver diverged' >&2; exit 3"}, time.Minute).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "solver diverged")
}

func TestCommandRunnerTimeout(t *testing.T) {
	requireShell(t)
	_, err := NewCommandRunner("sh", []string{"-c", "exec sleep 5"}, 50*time.Millisecond).Run(context.Background())
	assert.ErrorContains(t, err, "timed out")
}

type stubRunner struct {
	name string
	snap *models.Snapshot
	err  error
}

func (s stubRunner) Name() string { return s.name }

func (s stubRunner) Run(context.Context) (*models.Snapshot, error) { return s.snap, s.err }

func TestFallbackRunner(t *testing.T) {
	fromFile := &models.Snapshot{ID: "file"}

	r := NewFallbackRunner(stubRunner{name: "http", err: errors.New("connection refused")}, stubRunner{name: "file", snap: fromFile}, logger.Nop())
	snap, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Same(t, fromFile, snap)
	assert.Equal(t, "file", r.Name())

	r = NewFallbackRunner(stubRunner{name: "http", err: errors.New("connection refused")}, stubRunner{name: "file", err: errors.New("no artifact")}, nil)
	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "no artifact")
}
