package changes

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"FinPilot/internal/domain/models"
)

// Detection thresholds.
const (
	StressSurgeThreshold = 0.15

	ShapCrossThreshold = 0.20
	ShapDeltaThreshold = 0.15
	ShapMinShare       = 0.05

	ScoreChangeThreshold  = 1.0
	ScoreWarningThreshold = 2.0

	DrawdownWarningPct  = -10.0
	DrawdownCriticalPct = -15.0

	RebalanceDeltaThreshold = 0.10
	RebalanceWarningDelta   = 0.20
	LeverageLimit           = 2.0

	SignalWeightFloor = 0.02
	SignalReturnFloor = 0.001
)

// Detector diffs two consecutive snapshots into alert candidates.
type Detector struct{}

func NewDetector() *Detector { return &Detector{} }

// Detect returns the candidates for current against previous. It has no side
// effects and returns an empty slice when previous is nil.
func (d *Detector) Detect(current models.Snapshot, previous *models.Snapshot) []models.AlertCandidate {
	return Detect(current, previous)
}

func Detect(current models.Snapshot, previous *models.Snapshot) []models.AlertCandidate {
	out := []models.AlertCandidate{}
	if previous == nil {
		return out
	}
	cur, prev := current.Metrics, previous.Metrics

	out = append(out, detectRegime(cur, prev)...)
	out = append(out, detectShapShift(cur, prev)...)
	out = append(out, detectScore(cur, prev)...)
	out = append(out, detectDrawdown(cur)...)
	out = append(out, detectStability(cur, prev)...)
	out = append(out, detectRebalancing(cur, prev)...)
	return out
}

func detectRegime(cur, prev models.SnapshotMetrics) []models.AlertCandidate {
	var out []models.AlertCandidate

	if !strings.EqualFold(strings.TrimSpace(cur.Regime.Label), strings.TrimSpace(prev.Regime.Label)) {
		out = append(out, models.AlertCandidate{
			Kind:          models.AlertRegimeChange,
			Severity:      regimeSeverity(cur.Regime.Label),
			Title:         fmt.Sprintf("Regime change: %s → %s", prev.Regime.Label, cur.Regime.Label),
			Message:       fmt.Sprintf("The market regime moved from %q to %q.", prev.Regime.Label, cur.Regime.Label),
			PreviousValue: prev.Regime.Label,
			CurrentValue:  cur.Regime.Label,
		})
	}

	prevStress, curStress := stressProbability(prev.Regime), stressProbability(cur.Regime)
	if rise := curStress - prevStress; rise > StressSurgeThreshold {
		out = append(out, models.AlertCandidate{
			Kind:          models.AlertRegimeChange,
			Severity:      models.SeverityWarning,
			Title:         "Stress probability surge",
			Message:       fmt.Sprintf("Stress regime probability rose by %.1f pp to %.1f%%.", rise*100, curStress*100),
			PreviousValue: formatPct(prevStress),
			CurrentValue:  formatPct(curStress),
			Threshold:     fmt.Sprintf("+%.1f pp", StressSurgeThreshold*100),
			Details:       map[string]interface{}{"rise": rise},
		})
	}
	return out
}

func regimeSeverity(label string) models.Severity {
	norm := normalizeLabel(label)
	switch {
	case strings.Contains(norm, "stress"):
		return models.SeverityCritical
	case strings.Contains(norm, "risk-off"):
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func normalizeLabel(label string) string {
	return strings.NewReplacer("_", "-", " ", "-").Replace(strings.ToLower(label))
}

// stressProbability sums the probability mass of every stress-flavoured regime.
func stressProbability(r models.RegimeState) float64 {
	total := 0.0
	for label, p := range r.Probabilities {
		if strings.Contains(normalizeLabel(label), "stress") {
			total += p
		}
	}
	return total
}

func detectShapShift(cur, prev models.SnapshotMetrics) []models.AlertCandidate {
	var out []models.AlertCandidate
	for _, inst := range sortedKeys(cur.FeatureImportance) {
		prevFeats, ok := prev.FeatureImportance[inst]
		if !ok {
			continue
		}
		curFeats := cur.FeatureImportance[inst]
		curShares, prevShares := relativeShares(curFeats), relativeShares(prevFeats)
		// No comparison without a real distribution on both sides.
		if curShares == nil || prevShares == nil {
			continue
		}

		for _, feat := range sortedKeys(curFeats) {
			c, p := curShares[feat], prevShares[feat]
			base := models.AlertCandidate{
				Kind:          models.AlertShapShift,
				PreviousValue: formatPct(p),
				CurrentValue:  formatPct(c),
				Instrument:    inst,
				Feature:       feat,
			}

			switch {
			case p < ShapCrossThreshold && c >= ShapCrossThreshold:
				a := base
				a.Severity = models.SeverityWarning
				a.Title = fmt.Sprintf("%s: %s became a major driver", inst, feat)
				a.Message = fmt.Sprintf("Relative importance of %s for %s rose from %s to %s.", feat, inst, a.PreviousValue, a.CurrentValue)
				a.Threshold = formatPct(ShapCrossThreshold)
				out = append(out, a)
			case math.Abs(c-p) > ShapDeltaThreshold && c >= ShapMinShare:
				a := base
				a.Severity = models.SeverityInfo
				a.Title = fmt.Sprintf("%s: importance shift in %s", inst, feat)
				a.Message = fmt.Sprintf("Relative importance of %s for %s moved from %s to %s.", feat, inst, a.PreviousValue, a.CurrentValue)
				a.Threshold = fmt.Sprintf("%.1f pp", ShapDeltaThreshold*100)
				out = append(out, a)
			}

			if curFeats[feat].Rank == 1 && prevFeats[feat].Rank != 1 {
				a := base
				a.Severity = models.SeverityInfo
				a.Title = fmt.Sprintf("%s: new top driver %s", inst, feat)
				a.Message = fmt.Sprintf("%s is now the most important feature for %s.", feat, inst)
				a.Threshold = "rank 1"
				a.Details = map[string]interface{}{"previousRank": prevFeats[feat].Rank}
				out = append(out, a)
			}
		}
	}
	return out
}

// relativeShares normalizes absolute importances by the instrument total.
func relativeShares(feats map[string]models.FeatureImportance) map[string]float64 {
	total := 0.0
	for _, f := range feats {
		total += math.Abs(f.Value)
	}
	if total == 0 {
		return nil
	}
	shares := make(map[string]float64, len(feats))
	for name, f := range feats {
		shares[name] = math.Abs(f.Value) / total
	}
	return shares
}

func detectScore(cur, prev models.SnapshotMetrics) []models.AlertCandidate {
	var out []models.AlertCandidate

	delta := cur.CompositeScore - prev.CompositeScore
	if math.Abs(delta) > ScoreChangeThreshold {
		sev := models.SeverityInfo
		if math.Abs(delta) > ScoreWarningThreshold {
			sev = models.SeverityWarning
		}
		out = append(out, models.AlertCandidate{
			Kind:          models.AlertScoreChange,
			Severity:      sev,
			Title:         fmt.Sprintf("Composite score moved %+.2f", delta),
			Message:       fmt.Sprintf("Composite score changed from %.2f to %.2f.", prev.CompositeScore, cur.CompositeScore),
			PreviousValue: fmt.Sprintf("%.2f", prev.CompositeScore),
			CurrentValue:  fmt.Sprintf("%.2f", cur.CompositeScore),
			Threshold:     fmt.Sprintf("%.1f", ScoreChangeThreshold),
		})
	}

	if cur.Direction != "" && prev.Direction != "" && cur.Direction != prev.Direction {
		out = append(out, models.AlertCandidate{
			Kind:          models.AlertScoreChange,
			Severity:      models.SeverityWarning,
			Title:         fmt.Sprintf("Direction flip: %s → %s", prev.Direction, cur.Direction),
			Message:       fmt.Sprintf("Model direction flipped from %s to %s.", prev.Direction, cur.Direction),
			PreviousValue: string(prev.Direction),
			CurrentValue:  string(cur.Direction),
		})
	}
	return out
}

func detectDrawdown(cur models.SnapshotMetrics) []models.AlertCandidate {
	dd := cur.OverlayDrawdownPct
	if dd >= DrawdownWarningPct {
		return nil
	}
	sev, threshold := models.SeverityWarning, DrawdownWarningPct
	if dd < DrawdownCriticalPct {
		sev, threshold = models.SeverityCritical, DrawdownCriticalPct
	}
	return []models.AlertCandidate{{
		Kind:         models.AlertDrawdownWarning,
		Severity:     sev,
		Title:        fmt.Sprintf("Overlay drawdown at %.1f%%", dd),
		Message:      fmt.Sprintf("The overlay strategy is %.1f%% below its peak.", dd),
		CurrentValue: fmt.Sprintf("%.1f%%", dd),
		Threshold:    fmt.Sprintf("%.1f%%", threshold),
	}}
}

type stabilityTransition struct {
	from, to models.StabilityClass
}

// Only these transitions alert. moderate→unstable and unstable→moderate are
// intentionally silent; see DESIGN.md before extending this table.
var stabilityPolicy = map[stabilityTransition]models.Severity{
	{models.StabilityRobust, models.StabilityUnstable}: models.SeverityCritical,
	{models.StabilityRobust, models.StabilityModerate}: models.SeverityWarning,
	{models.StabilityUnstable, models.StabilityRobust}: models.SeverityInfo,
}

func detectStability(cur, prev models.SnapshotMetrics) []models.AlertCandidate {
	var out []models.AlertCandidate
	for _, inst := range sortedKeys(cur.FeatureStability) {
		prevFeats := prev.FeatureStability[inst]
		for _, feat := range sortedKeys(cur.FeatureStability[inst]) {
			from, ok := prevFeats[feat]
			if !ok {
				continue
			}
			to := cur.FeatureStability[inst][feat]
			sev, alert := stabilityPolicy[stabilityTransition{from, to}]
			if !alert {
				continue
			}
			out = append(out, models.AlertCandidate{
				Kind:          models.AlertFeatureStability,
				Severity:      sev,
				Title:         fmt.Sprintf("%s: %s is now %s", inst, feat, to),
				Message:       fmt.Sprintf("Selection stability of %s for %s changed from %s to %s.", feat, inst, from, to),
				PreviousValue: string(from),
				CurrentValue:  string(to),
				Instrument:    inst,
				Feature:       feat,
			})
		}
	}
	return out
}

func detectRebalancing(cur, prev models.SnapshotMetrics) []models.AlertCandidate {
	var out []models.AlertCandidate

	instruments := unionKeys(cur.Weights, prev.Weights)
	turnover := 0.0
	maxDelta := 0.0
	moves := map[string]float64{}
	for _, inst := range instruments {
		delta := cur.Weights[inst] - prev.Weights[inst]
		turnover += math.Abs(delta)
		if math.Abs(delta) > RebalanceDeltaThreshold {
			moves[inst] = delta
			maxDelta = math.Max(maxDelta, math.Abs(delta))
		}
	}
	if len(moves) > 0 {
		sev := models.SeverityInfo
		if maxDelta > RebalanceWarningDelta {
			sev = models.SeverityWarning
		}
		names := sortedKeys(moves)
		parts := make([]string, 0, len(names))
		for _, inst := range names {
			parts = append(parts, fmt.Sprintf("%s %+.1f%%", inst, moves[inst]*100))
		}
		out = append(out, models.AlertCandidate{
			Kind:         models.AlertRebalancingDeviation,
			Severity:     sev,
			Title:        fmt.Sprintf("Rebalancing: %d position(s) moved", len(moves)),
			Message:      fmt.Sprintf("Large weight changes: %s. Total turnover %.1f%%.", strings.Join(parts, ", "), turnover*100),
			CurrentValue: formatPct(turnover),
			Threshold:    formatPct(RebalanceDeltaThreshold),
			Details:      map[string]interface{}{"moves": moves, "turnover": turnover},
		})
	}

	if gross := cur.GrossExposure(); gross > LeverageLimit {
		out = append(out, models.AlertCandidate{
			Kind:          models.AlertRebalancingDeviation,
			Severity:      models.SeverityCritical,
			Title:         "Leverage limit exceeded",
			Message:       fmt.Sprintf("Gross exposure is %.2fx, above the %.1fx limit.", gross, LeverageLimit),
			PreviousValue: fmt.Sprintf("%.2fx", prev.GrossExposure()),
			CurrentValue:  fmt.Sprintf("%.2fx", gross),
			Threshold:     fmt.Sprintf("%.1fx", LeverageLimit),
		})
	}

	for _, inst := range sortedKeys(cur.Weights) {
		w := cur.Weights[inst]
		er, ok := cur.ExpectedReturns[inst]
		if !ok || w*er >= 0 {
			continue
		}
		if math.Abs(w) <= SignalWeightFloor || math.Abs(er) <= SignalReturnFloor {
			continue
		}
		out = append(out, models.AlertCandidate{
			Kind:         models.AlertRebalancingDeviation,
			Severity:     models.SeverityWarning,
			Title:        fmt.Sprintf("Signal conflict: %s", inst),
			Message:      fmt.Sprintf("%s is held at %+.1f%% while its expected return is %+.2f%%.", inst, w*100, er*100),
			CurrentValue: fmt.Sprintf("weight %+.1f%%, expected return %+.2f%%", w*100, er*100),
			Instrument:   inst,
		})
	}
	return out
}

func formatPct(share float64) string {
	return fmt.Sprintf("%.1f%%", share*100)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionKeys(a, b map[string]float64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}
