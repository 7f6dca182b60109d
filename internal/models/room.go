package models

// StreamStats is the signaling relay's share of the health payload.
type StreamStats struct {
	ActiveStreams int            `json:"activeStreams"`
	TotalViewers  int            `json:"totalViewers"`
	Streams       []StreamDetail `json:"streams"`
}

// StreamDetail describes one signaling room. Uptime is in milliseconds.
type StreamDetail struct {
	StreamID    string `json:"streamId"`
	HasHost     bool   `json:"hasHost"`
	ViewerCount int    `json:"viewerCount"`
	Uptime      int64  `json:"uptime"`
}

// ChatStats is the chat relay's share of the health payload.
type ChatStats struct {
	ActiveRooms int          `json:"activeRooms"`
	TotalUsers  int          `json:"totalUsers"`
	RoomDetails []ChatDetail `json:"roomDetails"`
}

// ChatDetail describes one chat room. Uptime is in milliseconds.
type ChatDetail struct {
	StreamID  string `json:"streamId"`
	UserCount int    `json:"userCount"`
	Uptime    int64  `json:"uptime"`
}

// HealthResponse is served from GET /health.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Uptime    float64     `json:"uptime"`
	Version   string      `json:"version"`
	RTC       StreamStats `json:"rtc"`
	Chat      ChatStats   `json:"chat"`
}
