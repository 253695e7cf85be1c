package models

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// FlexString accepts both JSON strings and numbers. Backends are not
// consistent about the type of identifiers.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

// rawAlert covers the field spellings seen from the realtime channel and
// the REST snapshot endpoint.
type rawAlert struct {
	AlertID          FlexString      `json:"alertId"`
	ID               FlexString      `json:"id"`
	MongoID          FlexString      `json:"_id"`
	TouristID        FlexString      `json:"touristId"`
	TouristName      string          `json:"touristName"`
	Name             string          `json:"name"`
	Location         *rawLocation    `json:"location"`
	Latitude         *float64        `json:"latitude"`
	Longitude        *float64        `json:"longitude"`
	Lat              *float64        `json:"lat"`
	Lng              *float64        `json:"lng"`
	LocationName     string          `json:"locationName"`
	SafetyScore      *float64        `json:"safetyScore"`
	SOSReason        json.RawMessage `json:"sosReason"`
	EmergencyContact json.RawMessage `json:"emergencyContact"`
	Timestamp        string          `json:"timestamp"`
	CreatedAt        string          `json:"createdAt"`
	Status           string          `json:"status"`
	AssignedUnit     FlexString      `json:"assignedUnit"`
	BlockchainLogged bool            `json:"blockchainLogged"`
}

type rawLocation struct {
	Coordinates  []float64 `json:"coordinates"` // [lng, lat]
	LocationName string    `json:"locationName"`
	Name         string    `json:"name"`
}

// Normalized is an Alert plus the data-quality facts gathered while
// building it.
type Normalized struct {
	Alert          Alert
	DerivedID      bool
	HasCoordinates bool
}

// NormalizeAlert converts one raw payload into the Alert shape. Entries
// without an identifier get one derived from the tourist and timestamp,
// or from the payload bytes when both are missing.
func NormalizeAlert(data json.RawMessage) (Normalized, error) {
	var raw rawAlert
	if err := json.Unmarshal(data, &raw); err != nil {
		return Normalized{}, fmt.Errorf("error decoding alert: %w", err)
	}

	n := Normalized{
		Alert: Alert{
			ID:               firstNonEmpty(string(raw.AlertID), string(raw.ID), string(raw.MongoID)),
			TouristID:        string(raw.TouristID),
			TouristName:      firstNonEmpty(raw.TouristName, raw.Name),
			Reason:           nullToNil(raw.SOSReason),
			EmergencyContact: nullToNil(raw.EmergencyContact),
			Timestamp:        firstNonEmpty(raw.Timestamp, raw.CreatedAt),
			Status:           ParseAlertStatus(strings.ToLower(strings.TrimSpace(raw.Status))),
			AssignedUnit:     string(raw.AssignedUnit),
			BlockchainLogged: raw.BlockchainLogged,
		},
	}

	n.Alert.Location, n.HasCoordinates = extractLocation(&raw)

	if raw.SafetyScore != nil {
		score := NormalizeScore(*raw.SafetyScore)
		n.Alert.SafetyScore = &score
		n.Alert.Severity = SeverityFromScore(score)
	} else {
		// An SOS without a score is treated as the worst case.
		n.Alert.Severity = AlertSeverityCritical
	}

	if n.Alert.ID == "" {
		n.Alert.ID = fallbackID(n.Alert, data)
		n.DerivedID = true
	}

	return n, nil
}

func extractLocation(raw *rawAlert) (Location, bool) {
	loc := Location{Name: raw.LocationName}
	if raw.Location != nil {
		loc.Name = firstNonEmpty(raw.Location.LocationName, raw.Location.Name, raw.LocationName)
		if len(raw.Location.Coordinates) >= 2 {
			loc.Longitude = raw.Location.Coordinates[0]
			loc.Latitude = raw.Location.Coordinates[1]
			return loc, true
		}
	}

	lat, lng := raw.Latitude, raw.Longitude
	if lat == nil || lng == nil {
		lat, lng = raw.Lat, raw.Lng
	}
	if lat != nil && lng != nil {
		loc.Latitude = *lat
		loc.Longitude = *lng
		return loc, true
	}
	return loc, false
}

func fallbackID(a Alert, data []byte) string {
	if a.TouristID != "" || a.Timestamp != "" {
		return "derived-" + a.TouristID + "-" + a.Timestamp
	}
	sum := sha1.Sum(data)
	return "derived-" + hex.EncodeToString(sum[:6])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
