package costapi

import "github.com/shopspring/decimal"

// CostsPage is the raw response of the organization costs endpoint.
type CostsPage struct {
	Object   string       `json:"object"`
	Data     []CostBucket `json:"data"`
	HasMore  bool         `json:"has_more"`
	NextPage string       `json:"next_page"`
}

// CostBucket is one time bucket of the costs response.
type CostBucket struct {
	StartTime int64        `json:"start_time"`
	EndTime   int64        `json:"end_time"`
	Results   []CostResult `json:"results"`
}

// CostResult is one line item within a bucket.
type CostResult struct {
	Amount    Amount `json:"amount"`
	LineItem  string `json:"line_item,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// Amount is a monetary value. Value accepts JSON numbers and numeric strings.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}
