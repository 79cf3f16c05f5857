package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Status is the observed or derived condition of a kiosk.
type Status string

const (
	StatusWorking      Status = "working"
	StatusNoCash       Status = "no_cash"
	StatusOutOfService Status = "out_of_service"
	// StatusUnknown is derived only. It means no usable signal and is never stored.
	StatusUnknown Status = "unknown"
)

// ReportableStatuses lists the statuses a device may submit, in tie-break order.
var ReportableStatuses = []Status{StatusWorking, StatusNoCash, StatusOutOfService}

// Valid reports whether s is one of the submittable statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWorking, StatusNoCash, StatusOutOfService:
		return true
	}
	return false
}

// ParseStatus converts raw input into a submittable Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if s == "" {
		return "", eris.Wrap(ErrInvalidArgument, "status is required")
	}
	if !s.Valid() {
		return "", eris.Wrapf(ErrInvalidArgument, "invalid status value %q", raw)
	}
	return s, nil
}
