package queue

import (
	"testing"

	"github.com/google/uuid"
)

func TestEnqueuePayloadRoundtrip(t *testing.T) {
	id := uuid.New()
	payload, err := marshalEnvelope(id, "user-1")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := unmarshalEnvelope(payload)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TaskID != id {
		t.Errorf("roundtrip task id mismatch: want %s got %s", id, got.TaskID)
	}
	if got.UserID != "user-1" {
		t.Errorf("roundtrip user id mismatch: got %s", got.UserID)
	}
}
