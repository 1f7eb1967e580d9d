package protocol

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

const (
	TypeAck      = "ack"
	TypeError    = "error"
	TypeTicker   = "ticker"
	TypeSnapshot = "snapshot"
	TypeWelcome  = "welcome"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Symbols []string `json:"symbols"`
}

type WSResponse struct {
	Type    string      `json:"type"`            // "ack", "error", "ticker", "snapshot", "welcome"
	ID      string      `json:"id,omitempty"`    // Matches request ID
	Topic   string      `json:"topic,omitempty"` // Set on ticker and snapshot pushes
	Status  string      `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// StockTopic is the push topic carrying one symbol's updates.
func StockTopic(prefix, symbol string) string {
	return prefix + "/stocks/" + symbol
}

func Ack(id, message string, data interface{}) WSResponse {
	return WSResponse{Type: TypeAck, ID: id, Status: StatusSuccess, Message: message, Data: data}
}

func Error(id, message string) WSResponse {
	return WSResponse{Type: TypeError, ID: id, Status: StatusError, Message: message}
}
