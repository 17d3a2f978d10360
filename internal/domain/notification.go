package domain

import "encoding/json"

// Notification is the wire form of a settled submission, as pushed to
// websocket clients and the outcome journal.
type Notification struct {
	RequestID string               `json:"request_id"`
	Success   bool                 `json:"success"`
	Errors    []string             `json:"errors,omitempty"`
	Results   []NotificationResult `json:"results"`
}

// NotificationResult is the wire form of one job's result.
type NotificationResult struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// NewNotification flattens an Outcome for the given request.
// Slots that were never populated are reported as failed.
func NewNotification(requestID string, o Outcome[json.RawMessage]) Notification {
	n := Notification{
		RequestID: requestID,
		Success:   o.Success,
		Results:   make([]NotificationResult, len(o.Results)),
	}
	for _, err := range o.Errors {
		n.Errors = append(n.Errors, err.Error())
	}
	for i, r := range o.Results {
		switch {
		case r == nil:
			n.Results[i] = NotificationResult{Error: ErrJobFailed.Error()}
		case r.OK():
			n.Results[i] = NotificationResult{OK: true, Value: r.Value}
		default:
			n.Results[i] = NotificationResult{Error: r.Err.Error()}
		}
	}
	return n
}
