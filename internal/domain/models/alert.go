package models

import "time"

type AlertKind string

const (
	AlertRegimeChange         AlertKind = "regime_change"
	AlertShapShift            AlertKind = "shap_shift"
	AlertScoreChange          AlertKind = "score_change"
	AlertDrawdownWarning      AlertKind = "drawdown_warning"
	AlertFeatureStability     AlertKind = "feature_stability"
	AlertRebalancingDeviation AlertKind = "rebalancing_deviation"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertCandidate is a detection result that has not been persisted yet.
type AlertCandidate struct {
	Kind          AlertKind              `json:"kind"`
	Severity      Severity               `json:"severity"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	PreviousValue string                 `json:"previousValue"`
	CurrentValue  string                 `json:"currentValue"`
	Threshold     string                 `json:"threshold"`
	Instrument    string                 `json:"instrument,omitempty"`
	Feature       string                 `json:"feature,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// Alert is a persisted candidate with operator state.
type Alert struct {
	AlertCandidate
	ID          string    `json:"id"`
	SnapshotID  string    `json:"snapshotId"`
	IsRead      bool      `json:"isRead"`
	IsDismissed bool      `json:"isDismissed"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AlertFilter narrows an alert listing.
type AlertFilter struct {
	Limit            int
	UnreadOnly       bool
	IncludeDismissed bool
	SnapshotID       string
}
