package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/realtime"
)

var errIncomplete = errors.New("payload missing required fields")

// eventPayload is the union of the check-in, status and zone payloads.
// The backend does not fix their shape, so every field is optional.
type eventPayload struct {
	AlertID      models.FlexString `json:"alertId"`
	TouristID    models.FlexString `json:"touristId"`
	TouristName  string            `json:"touristName"`
	Name         string            `json:"name"`
	Status       string            `json:"status"`
	Message      string            `json:"message"`
	Zone         string            `json:"zone"`
	ZoneName     string            `json:"zoneName"`
	LocationName string            `json:"locationName"`
	Location     *struct {
		LocationName string `json:"locationName"`
		Name         string `json:"name"`
	} `json:"location"`
}

func (p eventPayload) who() string {
	for _, s := range []string{p.TouristName, p.Name, string(p.TouristID)} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func (p eventPayload) place() string {
	candidates := []string{p.ZoneName, p.Zone, p.LocationName}
	if p.Location != nil {
		candidates = append(candidates, p.Location.LocationName, p.Location.Name)
	}
	for _, s := range candidates {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

type eventHandler struct {
	event   string
	handler *realtime.Handler
}

// Attach registers the center for the four notification events.
func (c *Center) Attach(router *realtime.Router) {
	for _, h := range c.handlers {
		router.On(h.event, h.handler)
	}
}

func (c *Center) Detach(router *realtime.Router) {
	for _, h := range c.handlers {
		router.Off(h.event, h.handler)
	}
}

func (c *Center) eventHandlers() []eventHandler {
	return []eventHandler{
		{models.EventNewSOSAlert, realtime.NewHandler("notify-sos", c.handleSOS)},
		{models.EventTouristCheckin, realtime.NewHandler("notify-checkin", c.handleCheckin)},
		{models.EventAlertStatusUpdate, realtime.NewHandler("notify-status", c.handleStatus)},
		{models.EventLocationUpdate, realtime.NewHandler("notify-zone", c.handleZone)},
	}
}

func (c *Center) handleSOS(data json.RawMessage) error {
	n, err := models.NormalizeAlert(data)
	if err != nil {
		return err
	}
	who := firstNonEmpty(n.Alert.TouristName, n.Alert.TouristID)
	if who == "" && n.DerivedID {
		return errIncomplete
	}
	if !c.sos.add(n.Alert.ID) {
		slog.Debug("sos already logged", "alert_id", n.Alert.ID)
		return nil
	}
	text := "SOS from " + firstNonEmpty(who, "unknown tourist")
	if n.Alert.Location.Name != "" {
		text += " near " + n.Alert.Location.Name
	}
	if n.Alert.SafetyScore != nil {
		text += fmt.Sprintf(" (safety score %.0f)", *n.Alert.SafetyScore)
	}
	c.Add(text, models.NotificationError, "SOS")
	return nil
}

func (c *Center) handleCheckin(data json.RawMessage) error {
	p, err := decode(data)
	if err != nil {
		return err
	}
	who := p.who()
	if who == "" {
		return errIncomplete
	}
	text := who + " checked in"
	if place := p.place(); place != "" {
		text += " at " + place
	}
	c.Add(text, models.NotificationSuccess, "Check-in")
	return nil
}

func (c *Center) handleStatus(data json.RawMessage) error {
	p, err := decode(data)
	if err != nil {
		return err
	}
	status := strings.ToLower(strings.TrimSpace(p.Status))
	if p.AlertID == "" || status == "" {
		return errIncomplete
	}
	typ := models.NotificationInfo
	if models.ParseAlertStatus(status) == models.AlertStatusResolved {
		typ = models.NotificationSuccess
	}
	c.Add(fmt.Sprintf("Alert %s is now %s", p.AlertID, status), typ, "Status")
	return nil
}

func (c *Center) handleZone(data json.RawMessage) error {
	p, err := decode(data)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(p.Message)
	if text == "" {
		who, place := p.who(), p.place()
		if who == "" || place == "" {
			return errIncomplete
		}
		text = who + " entered " + place
	}
	c.Add(text, models.NotificationWarning, "Zone")
	return nil
}

func decode(data json.RawMessage) (eventPayload, error) {
	var p eventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("error decoding event payload: %w", err)
	}
	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// seenAlerts remembers the most recent SOS alert IDs so a re-delivery is
// logged once.
type seenAlerts struct {
	mu       sync.Mutex
	capacity int
	ids      map[string]struct{}
	order    []string
}

func newSeenAlerts(capacity int) *seenAlerts {
	return &seenAlerts{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

// add reports false when id was already seen.
func (s *seenAlerts) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.order) >= s.capacity {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}
