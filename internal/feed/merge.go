package feed

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mr1hm/go-sos-alerts/internal/models"
)

// normalizeBatch decodes a snapshot. Undecodable entries are dropped and
// duplicate IDs keep their first occurrence.
func normalizeBatch(items []json.RawMessage) []models.Alert {
	alerts := make([]models.Alert, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		n, err := models.NormalizeAlert(item)
		if err != nil {
			slog.Warn("dropping undecodable alert", "error", err)
			continue
		}
		if n.DerivedID {
			slog.Warn("alert without identifier, using derived id", "alert_id", n.Alert.ID, "tourist_id", n.Alert.TouristID)
		}
		if seen[n.Alert.ID] {
			continue
		}
		seen[n.Alert.ID] = true
		alerts = append(alerts, n.Alert)
	}
	return alerts
}

// mergeSnapshot replaces current with snapshot. Entries pushed after the
// snapshot fetch began (pushed[id] > since) win over the snapshot's copy,
// and those the snapshot does not know yet stay on top.
func mergeSnapshot(current, snapshot []models.Alert, pushed map[string]uint64, since uint64) []models.Alert {
	inSnapshot := make(map[string]bool, len(snapshot))
	for _, a := range snapshot {
		inSnapshot[a.ID] = true
	}

	fresher := make(map[string]models.Alert)
	out := make([]models.Alert, 0, len(snapshot))
	for _, a := range current {
		if pushed[a.ID] <= since {
			continue
		}
		if inSnapshot[a.ID] {
			fresher[a.ID] = a
			continue
		}
		out = append(out, a)
	}

	for _, a := range snapshot {
		if f, ok := fresher[a.ID]; ok {
			a = f
		}
		out = append(out, a)
	}
	return out
}

// upsert replaces the entry with the same ID in place or prepends a.
func upsert(current []models.Alert, a models.Alert) []models.Alert {
	for i := range current {
		if current[i].ID == a.ID {
			out := append([]models.Alert(nil), current...)
			out[i] = a
			return out
		}
	}
	out := make([]models.Alert, 0, len(current)+1)
	out = append(out, a)
	return append(out, current...)
}

// statusUpdate is the payload of alertStatusUpdate events.
type statusUpdate struct {
	AlertID      models.FlexString  `json:"alertId"`
	ID           models.FlexString  `json:"id"`
	MongoID      models.FlexString  `json:"_id"`
	Status       string             `json:"status"`
	AssignedUnit *models.FlexString `json:"assignedUnit"`
}

func (u statusUpdate) alertID() string {
	for _, id := range []models.FlexString{u.AlertID, u.ID, u.MongoID} {
		if id != "" {
			return string(id)
		}
	}
	return ""
}

// applyStatus patches the status of an existing entry in place. It
// reports false when no entry has the ID.
func applyStatus(current []models.Alert, u statusUpdate) ([]models.Alert, bool) {
	id := u.alertID()
	for i := range current {
		if current[i].ID != id {
			continue
		}
		out := append([]models.Alert(nil), current...)
		if u.Status != "" {
			out[i].Status = models.ParseAlertStatus(strings.ToLower(strings.TrimSpace(u.Status)))
		}
		if u.AssignedUnit != nil {
			out[i].AssignedUnit = string(*u.AssignedUnit)
		}
		return out, true
	}
	return current, false
}
