package changes

import (
	"fmt"
	"math"
	"strings"
	"time"

	"FinPilot/internal/domain/models"
)

const (
	ChangelogScoreThreshold  = 0.5
	ChangelogWeightThreshold = 0.05
)

// ChangelogBuilder turns a snapshot pair into one narrative entry.
type ChangelogBuilder struct {
	now func() time.Time
}

func NewChangelogBuilder() *ChangelogBuilder {
	return &ChangelogBuilder{now: time.Now}
}

// Build never fails. A nil previous yields a single "initial" line and an
// unchanged pair yields a single "none" line.
func (b *ChangelogBuilder) Build(current models.Snapshot, previous *models.Snapshot) models.ChangelogEntry {
	cur := current.Metrics
	entry := models.ChangelogEntry{
		SnapshotID: current.ID,
		Version:    Version(current),
		RunDate:    current.RunDate,
		Headline:   HeadlineOf(cur),
		Metrics:    chartMetrics(cur),
		CreatedAt:  b.now().UTC(),
	}

	if previous == nil {
		entry.Changes = []models.ChangeLine{{
			Type:        models.ChangeInitial,
			Description: fmt.Sprintf("Initial run: regime %s, composite score %.2f (%s).", cur.Regime.Label, cur.CompositeScore, cur.Direction),
		}}
		return entry
	}

	prev := previous.Metrics
	var lines []models.ChangeLine
	if !strings.EqualFold(cur.Regime.Label, prev.Regime.Label) {
		lines = append(lines, models.ChangeLine{
			Type:        models.ChangeRegime,
			Description: fmt.Sprintf("Regime changed from %s to %s.", prev.Regime.Label, cur.Regime.Label),
		})
	}
	if delta := cur.CompositeScore - prev.CompositeScore; math.Abs(delta) > ChangelogScoreThreshold {
		lines = append(lines, models.ChangeLine{
			Type:        models.ChangeScore,
			Description: fmt.Sprintf("Composite score %+.2f (%.2f → %.2f).", delta, prev.CompositeScore, cur.CompositeScore),
		})
	}
	for _, inst := range unionKeys(cur.Weights, prev.Weights) {
		delta := cur.Weights[inst] - prev.Weights[inst]
		if math.Abs(delta) <= ChangelogWeightThreshold {
			continue
		}
		lines = append(lines, models.ChangeLine{
			Type:        models.ChangeWeight,
			Description: fmt.Sprintf("%s weight %+.1f%% (%.1f%% → %.1f%%).", inst, delta*100, prev.Weights[inst]*100, cur.Weights[inst]*100),
		})
	}
	if len(lines) == 0 {
		lines = []models.ChangeLine{{Type: models.ChangeNone, Description: "No significant change since the previous run."}}
	}
	entry.Changes = lines
	return entry
}

// Version is the run date followed by the short snapshot id.
func Version(s models.Snapshot) string {
	short := s.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return s.RunDate.UTC().Format("2006.01.02") + "-" + short
}

func HeadlineOf(m models.SnapshotMetrics) models.Headline {
	return models.Headline{
		Regime:         m.Regime.Label,
		CompositeScore: m.CompositeScore,
		Direction:      m.Direction,
		GrossExposure:  m.GrossExposure(),
	}
}

func chartMetrics(m models.SnapshotMetrics) map[string]float64 {
	out := map[string]float64{
		"compositeScore":     m.CompositeScore,
		"overlayDrawdownPct": m.OverlayDrawdownPct,
		"grossExposure":      m.GrossExposure(),
		"stressProbability":  stressProbability(m.Regime),
	}
	for inst, w := range m.Weights {
		out["weight."+inst] = w
	}
	if m.Backtest != nil {
		out["backtest.sharpe"] = m.Backtest.Sharpe
		out["backtest.cagr"] = m.Backtest.CAGR
		out["backtest.maxDrawdownPct"] = m.Backtest.MaxDrawdownPct
	}
	return out
}
