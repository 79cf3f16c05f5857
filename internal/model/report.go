package model

import "time"

// Report is the latest observation a device made about a kiosk.
type Report struct {
	ID                string    `json:"id"`
	KioskID           string    `json:"kiosk_id"`
	Status            Status    `json:"status"`
	DeviceHash        string    `json:"device_hash"`
	SubmittedAt       time.Time `json:"submitted_at"`
	TrustAtSubmission float64   `json:"trust_at_submission"`
}

// AnnotatedReport pairs a stored report with the device's current trust.
type AnnotatedReport struct {
	Report
	DeviceTrust float64 `json:"device_trust"`
}

// DeviceTrust is the reputation state of one anonymous device.
type DeviceTrust struct {
	DeviceHash      string    `json:"device_hash"`
	TotalReports    int       `json:"total_reports"`
	AccurateReports int       `json:"accurate_reports"`
	TrustScore      float64   `json:"trust_score"`
	LastReportAt    time.Time `json:"last_report_at"`
}
