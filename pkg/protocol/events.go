package protocol

// ProtocolVersion is the wire-protocol revision reported by the version
// and doctor commands, bumped whenever a frame shape changes incompatibly.
const ProtocolVersion = 1

// Event names published on the Observer Bus and forwarded to subscribers.
const (
	EventStatusChange = "status_change"
	EventProgress     = "progress"
	EventLog          = "log"
	EventFloodWait    = "flood_wait"
	EventError        = "error"
	EventCompleted    = "completed"

	// Pairing QR login events (broadcast on the bus, so every subscriber receives them).
	EventPairingQRCode = "pairing.qr.code"
	EventPairingDone   = "pairing.done"
)

// FrameType discriminates the three kinds of WebSocket frame.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// EventFrame is pushed unsolicited to every connected subscriber.
type EventFrame struct {
	Type    FrameType `json:"type"`
	Event   string    `json:"event"`
	JobID   string    `json:"job_id,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame not tied to a specific job.
func NewEvent(name string, payload any) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Payload: payload}
}

// NewJobEvent builds an EventFrame scoped to a job.
func NewJobEvent(jobID, name string, payload any) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, JobID: jobID, Payload: payload}
}
