package model

import (
	"encoding/json"
	"fmt"
	"time"

	"FinPilot/internal/domain/models"
	"FinPilot/pkg/util"
)

// document is the JSON the model process emits.
type document struct {
	SchemaVersion int             `json:"schemaVersion"`
	RunDate       string          `json:"runDate"`
	Metrics       json.RawMessage `json:"metrics"`
}

// ParseSnapshot decodes model output into a snapshot. The schema version is
// mandatory; a missing or unknown version is rejected.
func ParseSnapshot(data []byte, now time.Time) (*models.Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	if len(doc.Metrics) == 0 {
		return nil, fmt.Errorf("parse model output: metrics missing")
	}
	metrics, err := models.DecodeMetrics(doc.SchemaVersion, doc.Metrics)
	if err != nil {
		return nil, err
	}
	runDate := util.ParseTimeDefault(doc.RunDate, now)
	return &models.Snapshot{
		SchemaVersion: models.CurrentSchemaVersion,
		RunDate:       util.AtClockUTC(runDate, 0, 0),
		Metrics:       metrics,
	}, nil
}
