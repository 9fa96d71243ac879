package model

import "time"

// APIResponse is a generic wrapper for API responses.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSuccessResponse creates a successful API response.
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error API response.
func NewErrorResponse[T any](errMsg string) APIResponse[T] {
	return APIResponse[T]{
		Success: false,
		Error:   errMsg,
	}
}

// ErrorResponse represents an error response structure.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// WebSocketMessage is pushed to a user's open sockets.
type WebSocketMessage struct {
	Type       string    `json:"type"`
	Collection Kind      `json:"collection,omitempty"`
	Count      int       `json:"count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WebSocket message types.
const (
	WSMessageTypeCollectionUpdated = "collection_updated"
	WSMessageTypePing              = "ping"
	WSMessageTypePong              = "pong"
	WSMessageTypeError             = "error"
)

// NewCollectionUpdatedMessage announces that a collection changed server-side.
func NewCollectionUpdatedMessage(kind Kind, count int) WebSocketMessage {
	return WebSocketMessage{
		Type:       WSMessageTypeCollectionUpdated,
		Collection: kind,
		Count:      count,
		Timestamp:  time.Now().UTC(),
	}
}
