package router

import "fmt"

// ServerError is a request rejection or failure reported by the backend
// over a live connection. It never triggers reconnection.
type ServerError struct {
	Type    string
	Code    string
	Message string
	Param   string
	EventID string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Type, e.Message)
}
