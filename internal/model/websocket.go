package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type     string     `json:"type"`
	TaskID   string     `json:"task_id"`
	Progress int        `json:"progress"`
	Status   TaskStatus `json:"status"`
}

// WSCompleteMessage represents task completion
type WSCompleteMessage struct {
	Type string `json:"type"`
	Task *Task  `json:"task"`
}

// WSErrorMessage represents a failed task
type WSErrorMessage struct {
	Type   string  `json:"type"`
	TaskID string  `json:"task_id"`
	Error  WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
