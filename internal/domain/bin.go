package domain

import "time"

// BinStatus describes a collection bin as pushed by the live channel.
type BinStatus struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	FillPercent float64   `json:"fillPercent"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ScanResult is the server's answer to an uploaded item photo.
type ScanResult struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	BinID    string `json:"binId,omitempty"`
}
