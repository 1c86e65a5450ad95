// Package models defines the records shared by the conversation core, the
// store and the admin API.
package models

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt is a delivery event reported by the transport.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// InboundMessage is a chat message delivered by the transport.
type InboundMessage struct {
	// ID is the transport message ID, used for redelivery de-duplication.
	ID string `json:"id"`
	// From is the sender identity (digits for WhatsApp numbers).
	From    string `json:"from"`
	Body    string `json:"body"`
	IsGroup bool   `json:"is_group"`
	Time    int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope returned by every admin endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response carrying a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
