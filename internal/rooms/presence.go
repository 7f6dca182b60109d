package rooms

// Presence receives membership changes. Implementations must not block.
type Presence interface {
	Joined(roomID, memberID string)
	Left(roomID, memberID string)
	Closed(roomID string)
}

// NopPresence discards every event.
type NopPresence struct{}

func (NopPresence) Joined(string, string) {}
func (NopPresence) Left(string, string)   {}
func (NopPresence) Closed(string)         {}
