package models

// Requests for the operator HTTP endpoints.

type TriggerRequest struct {
	TriggeredBy string `json:"triggeredBy" default:"operator" validate:"max=64"`
}

// List limits carry no default tag: a bound 0 must reach the validator, so
// defaults are filled in before binding by the New* constructors.

type ListRunsRequest struct {
	Limit int `query:"limit" json:"limit" validate:"gte=1,lte=200"`
}

func NewListRunsRequest() *ListRunsRequest { return &ListRunsRequest{Limit: 20} }

type ListChangelogRequest struct {
	Limit int `query:"limit" json:"limit" validate:"gte=1,lte=365"`
}

func NewListChangelogRequest() *ListChangelogRequest { return &ListChangelogRequest{Limit: 30} }

type ListAlertsRequest struct {
	Limit            int    `query:"limit" json:"limit" validate:"gte=1,lte=500"`
	Unread           bool   `query:"unread" json:"unread"`
	IncludeDismissed bool   `query:"include_dismissed" json:"includeDismissed"`
	SnapshotID       string `query:"snapshot_id" json:"snapshotId"`
}

func NewListAlertsRequest() *ListAlertsRequest { return &ListAlertsRequest{Limit: 50} }

type PortfolioRequest struct {
	Name    string             `json:"name" validate:"required,max=128"`
	Weights map[string]float64 `json:"weights" validate:"required,min=1,dive,gte=-5,lte=5"`
}
