package server

import (
	"net/http"
)

// isoMillis matches the timestamp format browsers produce for Date.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

type helloResponse struct {
	Echo       string `json:"echo"`
	Function   string `json:"function"`
	Greeting   string `json:"greeting"`
	OK         bool   `json:"ok"`
	ReceivedAt string `json:"received_at"`
}

// handleHelloWorld echoes message and greets name. Unreadable bodies are
// treated as empty.
func (s *Server) handleHelloWorld(w http.ResponseWriter, r *http.Request) {
	body, _ := readBody(w, r)
	message := stringField(body, "message")
	if message == "" {
		message = "No message provided."
	}
	greeting := "Hello!"
	if name := stringField(body, "name"); name != "" {
		greeting = "Hello, " + name + "!"
	}
	writeJSON(w, http.StatusOK, helloResponse{
		Echo:       message,
		Function:   helloWorld,
		Greeting:   greeting,
		OK:         true,
		ReceivedAt: s.now().UTC().Format(isoMillis),
	})
}
