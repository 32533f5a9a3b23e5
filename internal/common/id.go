package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique Task id with the "task_" prefix.
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewCorrelationID generates a request correlation id threaded through the
// logger fields for the lifetime of one HTTP request.
func NewCorrelationID() string {
	return uuid.New().String()
}
