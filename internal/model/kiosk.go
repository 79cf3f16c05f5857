package model

import "time"

// Kiosk is the static metadata of a kiosk. It never carries status.
type Kiosk struct {
	ID      string  `json:"id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Name    *string `json:"name"`
	Bank    *string `json:"bank"`
	Address *string `json:"address"`
}

// KioskStatus is kiosk metadata joined with a freshly computed status.
type KioskStatus struct {
	Kiosk
	Status         Status     `json:"status"`
	Confidence     float64    `json:"confidence"`
	ReportCount    int        `json:"report_count"`
	LastReportedAt *time.Time `json:"last_reported_at"`
}
