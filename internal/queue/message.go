package queue

import "encoding/json"

// Message is the payload sent to downstream queue consumers.
type Message struct {
	RunID             string `json:"runId"`
	AccountID         string `json:"accountId"`
	BusinessContextID string `json:"businessContextId"`
	SubjectIdentifier string `json:"subjectIdentifier"`
	AnalysisDepth     string `json:"analysisDepth"`
	RequestID         string `json:"requestId"`
	RequestedAt       string `json:"requestedAt"`
	DeliveryAttempt   int    `json:"deliveryAttempt,omitempty"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
