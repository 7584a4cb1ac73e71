package types

// RiskAssessment is computed per trade attempt and never persisted.
type RiskAssessment struct {
	Approved          bool    `json:"approved"`
	SuggestedQuantity float64 `json:"suggested_quantity"`
	Price             float64 `json:"price"`
	Notional          float64 `json:"notional"`
	Sector            string  `json:"sector,omitempty"`
	StopLoss          float64 `json:"stop_loss,omitempty"`
	Reason            string  `json:"reason"`
}

// ComplianceResult keeps violations and warnings in the order they were found.
type ComplianceResult struct {
	Compliant  bool     `json:"compliant"`
	Violations []string `json:"violations"`
	Warnings   []string `json:"warnings"`
}
