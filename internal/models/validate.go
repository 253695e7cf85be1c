package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SOSPayload is the minimum a newSOSAlert must carry before it may be
// shown on the banner.
type SOSPayload struct {
	AlertID   FlexString   `json:"alertId" validate:"required"`
	TouristID FlexString   `json:"touristId" validate:"required"`
	Location  *SOSLocation `json:"location" validate:"required"`
	Timestamp string       `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

type SOSLocation struct {
	Coordinates []float64 `json:"coordinates" validate:"required,len=2"`
}

// pushPayload is the looser check for realtime pushes merged into the
// feed: identity may be derived, the location may not.
type pushPayload struct {
	Location *SOSLocation `json:"location" validate:"required"`
}

// ValidateSOSPayload decodes and validates a newSOSAlert payload.
func ValidateSOSPayload(data json.RawMessage) (*SOSPayload, error) {
	var p SOSPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("error decoding SOS payload: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid SOS payload: %w", err)
	}
	return &p, nil
}

// ValidatePushLocation rejects realtime alert payloads that do not carry
// a [lng, lat] coordinate pair.
func ValidatePushLocation(data json.RawMessage) error {
	var p pushPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("error decoding alert push: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return fmt.Errorf("invalid alert push: %w", err)
	}
	return nil
}
