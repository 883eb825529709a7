package model

import "github.com/shopspring/decimal"

// ClassificationRequest is the inbound boundary type. Description is the only
// required field; everything else enriches routing and telemetry.
type ClassificationRequest struct {
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	Merchant      string          `json:"merchant,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`

	// IncludeSimilarities requests the full category→score map in the result.
	IncludeSimilarities bool `json:"include_similarities,omitempty"`
}

// Text builds the string that is embedded: "{merchant} {description}" when a
// merchant is present, the description alone otherwise.
func (r ClassificationRequest) Text() string {
	if r.Merchant != "" {
		return r.Merchant + " " + r.Description
	}
	return r.Description
}

// Feedback reports the user-confirmed category for an earlier prediction.
type Feedback struct {
	TransactionID     string `json:"transaction_id"`
	PredictedCategory string `json:"predicted_category"`
	ActualCategory    string `json:"actual_category"`
	UserID            string `json:"user_id,omitempty"`
}

// Correct reports whether the prediction matched the user's category.
func (f Feedback) Correct() bool {
	return f.PredictedCategory == f.ActualCategory
}
