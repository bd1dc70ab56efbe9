package queue

import (
	"reflect"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{
		RunID:             "run-123",
		AccountID:         "acct-456",
		BusinessContextID: "ctx-789",
		SubjectIdentifier: "acme_corp",
		AnalysisDepth:     "standard",
		RequestID:         "request-abc",
		RequestedAt:       "2026-08-30T22:00:00Z",
		DeliveryAttempt:   2,
	}

	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}

	got, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}

	if !reflect.DeepEqual(got, msg) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestDecodeMessageRejectsInvalidJSON(t *testing.T) {
	if _, err := DecodeMessage([]byte("{not json")); err == nil {
		t.Fatal("expected decode error for malformed payload")
	}
}
