package telnyx

// Webhook and media-stream payloads for the Telnyx call control API.

// webhookEnvelope wraps every Telnyx webhook body.
type webhookEnvelope struct {
	Data webhookData `json:"data"`
}

type webhookData struct {
	RecordType string              `json:"record_type"`
	EventType  string              `json:"event_type"`
	ID         string              `json:"id"`
	OccurredAt string              `json:"occurred_at"`
	Payload    webhookEventPayload `json:"payload"`
}

type webhookEventPayload struct {
	CallControlID string `json:"call_control_id"`
	ConnectionID  string `json:"connection_id"`
	CallLegID     string `json:"call_leg_id"`
	CallSessionID string `json:"call_session_id"`
	ClientState   string `json:"client_state"`
	From          string `json:"from"`
	To            string `json:"to"`
	Direction     string `json:"direction"`
	State         string `json:"state"`
}

// smsEnvelope wraps inbound messaging webhooks.
type smsEnvelope struct {
	Data smsData `json:"data"`
}

type smsData struct {
	EventType  string     `json:"event_type"`
	ID         string     `json:"id"`
	OccurredAt string     `json:"occurred_at"`
	Payload    smsPayload `json:"payload"`
}

type smsPayload struct {
	Direction string     `json:"direction"`
	From      smsParty   `json:"from"`
	To        []smsParty `json:"to"`
	Text      string     `json:"text"`
}

type smsParty struct {
	Carrier     string `json:"carrier"`
	LineType    string `json:"line_type"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
}

// streamEvent is one inbound frame on the media websocket.
type streamEvent struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequence_number,omitempty"`
	StreamID       string        `json:"stream_id,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Payload        *errorDetail  `json:"payload,omitempty"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type errorDetail struct {
	Code   int    `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// outboundMedia is the frame shape Telnyx accepts for playback audio.
type outboundMedia struct {
	Event    string        `json:"event"`
	StreamID string        `json:"stream_id"`
	Media    outboundAudio `json:"media"`
}

type outboundAudio struct {
	Payload string `json:"payload"`
}

const (
	trackInbound = "inbound"

	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventStop      = "stop"
	eventError     = "error"
)
