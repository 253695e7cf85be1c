package models

// Realtime event names.
const (
	EventRegisterAuthority = "registerAuthority"
	EventNewSOSAlert       = "newSOSAlert"
	EventTouristCheckin    = "touristCheckin"
	EventAlertStatusUpdate = "alertStatusUpdate"
	EventLocationUpdate    = "locationUpdate"
)

const RoleAuthority = "authority"

// RegisterAuthority is the handshake sent on every (re)connect. Event
// routing on the server is session scoped, so it does not survive a
// transport reconnect.
type RegisterAuthority struct {
	Role   string `json:"role"`
	UserID string `json:"userId"`
}
