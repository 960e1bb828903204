package models

import "time"

// PortfolioConfig is the operator-maintained target allocation.
type PortfolioConfig struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Active    bool               `json:"active"`
	Weights   map[string]float64 `json:"weights"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
