package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// CurrentSchemaVersion is the snapshot metrics layout written by this build.
// Version 1 payloads carried a flat importance map without ranks.
const CurrentSchemaVersion = 2

var ErrUnsupportedSchema = errors.New("unsupported snapshot schema version")

// StabilityClass summarizes how consistently a feature is selected across resamples.
type StabilityClass string

const (
	StabilityRobust   StabilityClass = "robust"
	StabilityModerate StabilityClass = "moderate"
	StabilityUnstable StabilityClass = "unstable"
)

// Direction is the model's categorical call derived from the composite score.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionNeutral Direction = "neutral"
	DirectionBearish Direction = "bearish"
)

// Snapshot is the immutable output of one model computation.
type Snapshot struct {
	ID            string          `json:"id"`
	SchemaVersion int             `json:"schemaVersion"`
	RunDate       time.Time       `json:"runDate"`
	CreatedAt     time.Time       `json:"createdAt"`
	Metrics       SnapshotMetrics `json:"metrics"`
}

// SnapshotMetrics is the typed metrics payload of a snapshot.
type SnapshotMetrics struct {
	Regime             RegimeState                             `json:"regime"`
	CompositeScore     float64                                 `json:"compositeScore"`
	Direction          Direction                               `json:"direction"`
	Weights            map[string]float64                      `json:"weights"`
	ExpectedReturns    map[string]float64                      `json:"expectedReturns,omitempty"`
	FeatureImportance  map[string]map[string]FeatureImportance `json:"featureImportance,omitempty"`
	FeatureStability   map[string]map[string]StabilityClass    `json:"featureStability,omitempty"`
	OverlayDrawdownPct float64                                 `json:"overlayDrawdownPct"`
	Backtest           *BacktestMetrics                        `json:"backtest,omitempty"`
}

// RegimeState is the categorical regime label plus per-label probabilities.
type RegimeState struct {
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
}

// FeatureImportance is one feature's contribution and its rank within the instrument.
type FeatureImportance struct {
	Value float64 `json:"value"`
	Rank  int     `json:"rank"`
}

type BacktestMetrics struct {
	Sharpe         float64   `json:"sharpe"`
	CAGR           float64   `json:"cagr"`
	MaxDrawdownPct float64   `json:"maxDrawdownPct"`
	AsOf           time.Time `json:"asOf"`
}

// GrossExposure returns the sum of absolute weights.
func (m SnapshotMetrics) GrossExposure() float64 {
	total := 0.0
	for _, w := range m.Weights {
		total += math.Abs(w)
	}
	return total
}

// legacyMetricsV1 is the pre-rank layout still emitted by older model artifacts.
type legacyMetricsV1 struct {
	Regime             RegimeState                          `json:"regime"`
	CompositeScore     float64                              `json:"compositeScore"`
	Direction          Direction                            `json:"direction"`
	Weights            map[string]float64                   `json:"weights"`
	ExpectedReturns    map[string]float64                   `json:"expectedReturns,omitempty"`
	FeatureImportance  map[string]map[string]float64        `json:"featureImportance,omitempty"`
	FeatureStability   map[string]map[string]StabilityClass `json:"featureStability,omitempty"`
	OverlayDrawdownPct float64                              `json:"overlayDrawdownPct"`
	Backtest           *BacktestMetrics                     `json:"backtest,omitempty"`
}

// DecodeMetrics parses a metrics payload written under the given schema version.
func DecodeMetrics(version int, payload []byte) (SnapshotMetrics, error) {
	switch version {
	case CurrentSchemaVersion:
		var m SnapshotMetrics
		if err := json.Unmarshal(payload, &m); err != nil {
			return SnapshotMetrics{}, fmt.Errorf("decode metrics v%d: %w", version, err)
		}
		return m, nil
	case 1:
		var legacy legacyMetricsV1
		if err := json.Unmarshal(payload, &legacy); err != nil {
			return SnapshotMetrics{}, fmt.Errorf("decode metrics v1: %w", err)
		}
		return SnapshotMetrics{
			Regime:             legacy.Regime,
			CompositeScore:     legacy.CompositeScore,
			Direction:          legacy.Direction,
			Weights:            legacy.Weights,
			ExpectedReturns:    legacy.ExpectedReturns,
			FeatureImportance:  RankImportance(legacy.FeatureImportance),
			FeatureStability:   legacy.FeatureStability,
			OverlayDrawdownPct: legacy.OverlayDrawdownPct,
			Backtest:           legacy.Backtest,
		}, nil
	default:
		return SnapshotMetrics{}, fmt.Errorf("%w: %d", ErrUnsupportedSchema, version)
	}
}

// RankImportance assigns 1-based ranks by descending absolute value per instrument.
// Ties are broken by feature name so the result is deterministic.
func RankImportance(raw map[string]map[string]float64) map[string]map[string]FeatureImportance {
	if raw == nil {
		return nil
	}
	out := make(map[string]map[string]FeatureImportance, len(raw))
	for inst, feats := range raw {
		names := make([]string, 0, len(feats))
		for name := range feats {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			a, b := math.Abs(feats[names[i]]), math.Abs(feats[names[j]])
			if a != b {
				return a > b
			}
			return names[i] < names[j]
		})
		ranked := make(map[string]FeatureImportance, len(names))
		for i, name := range names {
			ranked[name] = FeatureImportance{Value: feats[name], Rank: i + 1}
		}
		out[inst] = ranked
	}
	return out
}

// ModelRunResult is what a model invocation hands back to its caller.
type ModelRunResult struct {
	Snapshot   *Snapshot        `json:"snapshot"`
	Source     string           `json:"source"`
	Candidates []AlertCandidate `json:"candidates"`
	AlertCount int              `json:"alertCount"`
	Changelog  *ChangelogEntry  `json:"changelog,omitempty"`
}
