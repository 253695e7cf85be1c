package models

import (
	"encoding/json"
	"time"
)

type AlertStatus string

const (
	AlertStatusNew        AlertStatus = "new"
	AlertStatusAssigned   AlertStatus = "assigned"
	AlertStatusResponding AlertStatus = "responding"
	AlertStatusResolved   AlertStatus = "resolved"
)

type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"locationName,omitempty"`
}

// Alert is the unit of delivery. ID is stable across retransmission.
type Alert struct {
	ID               string          `json:"id"`
	TouristID        string          `json:"touristId"`
	TouristName      string          `json:"touristName"`
	Location         Location        `json:"location"`
	SafetyScore      *float64        `json:"safetyScore,omitempty"` // normalized to [0,100]
	Severity         AlertSeverity   `json:"severity"`
	Reason           json.RawMessage `json:"sosReason,omitempty"`
	EmergencyContact json.RawMessage `json:"emergencyContact,omitempty"`
	Timestamp        string          `json:"timestamp"` // ISO-8601 as received
	Status           AlertStatus     `json:"status"`
	AssignedUnit     string          `json:"assignedUnit,omitempty"`
	BlockchainLogged bool            `json:"blockchainLogged,omitempty"`
}

// OccurredAt parses Timestamp. The zero time is returned when it is
// missing or not RFC 3339.
func (a *Alert) OccurredAt() time.Time {
	t, err := time.Parse(time.RFC3339, a.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SeverityFromScore maps a safety score in [0,100] to a severity.
// Higher scores are safer.
func SeverityFromScore(score float64) AlertSeverity {
	switch {
	case score >= 80:
		return AlertSeverityLow
	case score >= 50:
		return AlertSeverityMedium
	case score >= 20:
		return AlertSeverityHigh
	default:
		return AlertSeverityCritical
	}
}

// NormalizeScore brings a score reported on the [0,1] scale onto [0,100]
// and clamps the result. Exactly 1 is read as 1/100.
func NormalizeScore(score float64) float64 {
	if score > 0 && score < 1 {
		score *= 100
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func ParseAlertStatus(s string) AlertStatus {
	switch AlertStatus(s) {
	case AlertStatusAssigned, AlertStatusResponding, AlertStatusResolved:
		return AlertStatus(s)
	default:
		return AlertStatusNew
	}
}
