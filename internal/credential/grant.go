package credential

// Grant is the permission set embedded in a credential. JSON names follow the
// realtime backend's "video" claim.
type Grant struct {
	Room           string `json:"room,omitempty"`
	CanJoin        bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanPublishData bool   `json:"canPublishData"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanCreateRoom  bool   `json:"roomCreate,omitempty"`

	// RoomAdmin is only ever set on service credentials used for backend API
	// calls. Participant credentials carrying it are refused.
	RoomAdmin bool `json:"roomAdmin,omitempty"`
}

// Capability names as reported by Capabilities.
const (
	CapJoin        = "join"
	CapPublish     = "publish"
	CapPublishData = "publishData"
	CapSubscribe   = "subscribe"
	CapCreateRoom  = "createRoom"
	CapRoomAdmin   = "roomAdmin"
)

// NewParticipantGrant returns the bidirectional audio grant for room.
// createRoom is requested when room configuration travels inside the token.
func NewParticipantGrant(room string, createRoom bool) Grant {
	return Grant{
		Room:           room,
		CanJoin:        true,
		CanPublish:     true,
		CanPublishData: true,
		CanSubscribe:   true,
		CanCreateRoom:  createRoom,
	}
}

// Capabilities lists the enabled flags in a stable order.
func (g Grant) Capabilities() []string {
	var out []string
	if g.CanJoin {
		out = append(out, CapJoin)
	}
	if g.CanPublish {
		out = append(out, CapPublish)
	}
	if g.CanPublishData {
		out = append(out, CapPublishData)
	}
	if g.CanSubscribe {
		out = append(out, CapSubscribe)
	}
	if g.CanCreateRoom {
		out = append(out, CapCreateRoom)
	}
	if g.RoomAdmin {
		out = append(out, CapRoomAdmin)
	}
	return out
}
