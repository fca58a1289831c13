package realtime

// SSEEvent names a delivery-stream event type. The vocabulary is small on
// purpose: clients drive their whole state machine off these five events.
type SSEEvent string

const (
	// SSEEventProcessing fires when a worker claims the job.
	SSEEventProcessing SSEEvent = "processing"
	// SSEEventProgress carries intermediate status while the provider call is
	// in flight (attempt number, elapsed time).
	SSEEventProgress SSEEvent = "progress"
	// SSEEventMessage delivers the finished assistant message.
	SSEEventMessage SSEEvent = "message"
	// SSEEventComplete marks the job terminal-success; always follows message.
	SSEEventComplete SSEEvent = "complete"
	// SSEEventError marks the job terminal-failure after the attempt budget
	// is exhausted. Emitted exactly once per failed job.
	SSEEventError SSEEvent = "error"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

// ConversationChannel and NodeChannel build the per-dialogue channel names
// clients subscribe to.
func ConversationChannel(id string) string { return "conversation:" + id }
func NodeChannel(id string) string         { return "node:" + id }
