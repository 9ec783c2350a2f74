package response

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Envelope is the wire shape of every JSON response. Token is only set on
// the auth endpoints that mint a session.
type Envelope struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Token     string `json:"token,omitempty"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, body Envelope) {
	if body.RequestID == "" {
		body.RequestID = middleware.GetReqID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func Success(w http.ResponseWriter, r *http.Request, status int, message string) {
	JSON(w, r, status, Envelope{Status: "success", Message: message})
}

func SuccessToken(w http.ResponseWriter, r *http.Request, status int, message, token string) {
	JSON(w, r, status, Envelope{Status: "success", Message: message, Token: token})
}

func SuccessData(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	JSON(w, r, status, Envelope{Status: "success", Message: message, Data: data})
}

func Error(w http.ResponseWriter, r *http.Request, status int, message string) {
	JSON(w, r, status, Envelope{Status: "error", Message: message})
}
