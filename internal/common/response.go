package common

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response shape shared with the upstream platform
// API: {success, message?, data?}. The web client relies on this shape for
// every beanpay endpoint, success and failure alike.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes a success envelope carrying the provided data.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data})
}

// JSONMessage writes a success envelope with a message and optional data.
func JSONMessage(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Success: true, Message: message, Data: data})
}

// JSONError renders a failure envelope.
func JSONError(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{Success: false, Message: message})
}

// JSONErrorData renders a failure envelope carrying structured detail data.
func JSONErrorData(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Success: false, Message: message, Data: data})
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
