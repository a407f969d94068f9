package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseIdentityKey(t *testing.T) {
	class, consumer, err := ParseIdentityKey("demo-worker:c1:h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if class != "demo-worker" || consumer != "c1" {
		t.Errorf("got class=%q consumer=%q", class, consumer)
	}

	// class с двоеточием
	class, consumer, err = ParseIdentityKey("team:demo:c2:h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if class != "team:demo" || consumer != "c2" {
		t.Errorf("got class=%q consumer=%q", class, consumer)
	}
}

func TestParseIdentityKey_Invalid(t *testing.T) {
	for _, key := range []string{"demo-worker:c1", "c1:h", ":c1:h", "demo:", "demo::h"} {
		if _, _, err := ParseIdentityKey(key); !errors.Is(err, ErrInvalidIdentityKey) {
			t.Errorf("%q: expected ErrInvalidIdentityKey, got %v", key, err)
		}
	}
}

func TestIdentityFromHash(t *testing.T) {
	id, err := IdentityFromHash("demo:c1:h", map[string]string{
		FieldRequestStream:  "r:x",
		FieldResponseStream: "s:x",
		FieldConsumerID:     "c1",
		FieldRequestLimit:   "3",
		FieldPID:            "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.RequestLimit != 3 {
		t.Errorf("expected limit 3, got %d", id.RequestLimit)
	}
	if id.Lease.Claimed() {
		t.Error("empty pid should be unclaimed")
	}
	if err := id.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}

	if _, err := IdentityFromHash("demo:c1:h", map[string]string{FieldRequestLimit: "-1"}); err == nil {
		t.Error("expected error for negative requestLimit")
	}
}

func TestIdentity_HashOmitsPID(t *testing.T) {
	id := &WorkerIdentity{RequestStream: "r:x", ResponseStream: "s:x", ConsumerID: "c1", Lease: ClaimedBy("42")}
	if _, ok := id.Hash()[FieldPID]; ok {
		t.Error("pid must not be written by Hash")
	}
}

func TestLease(t *testing.T) {
	if Unclaimed.Claimed() {
		t.Error("Unclaimed should not be claimed")
	}
	l := ClaimedBy("999")
	if !l.OwnedBy("999") || l.OwnedBy("1") {
		t.Errorf("unexpected ownership for %s", l)
	}
	if Unclaimed.OwnedBy("") {
		t.Error("empty token must never own a lease")
	}
}

func TestStreamID(t *testing.T) {
	id, err := ParseStreamID("1700000000000-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UnixMs != 1700000000000 || id.SeqNo != 7 {
		t.Errorf("unexpected id: %+v", id)
	}
	if id.String() != "1700000000000-7" {
		t.Errorf("round trip mismatch: %s", id)
	}
	if !id.Less(StreamID{UnixMs: 1700000000000, SeqNo: 8}) {
		t.Error("expected id to be less than next seq")
	}

	if _, err := ParseStreamID("nope"); err == nil {
		t.Error("expected error for invalid id")
	}
}

func TestMessageFromFields(t *testing.T) {
	msg := MessageFromFields(StreamID{UnixMs: 1}, map[string]string{"ref": "abc", "type": "demo-worker", "x": "1"})
	if msg.Ref != "abc" || msg.Type != "demo-worker" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if _, ok := msg.Payload["ref"]; ok {
		t.Error("payload should not contain ref")
	}
	if msg.Payload["x"] != "1" {
		t.Errorf("payload lost field: %v", msg.Payload)
	}
}

func TestResult_MarshalSuccess(t *testing.T) {
	b, err := json.Marshal(Success("abc", map[string]any{"data": "ok"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `{"code":200,"data":"ok","ref":"abc"}` {
		t.Errorf("unexpected json: %s", b)
	}
}

func TestResult_MarshalFailure(t *testing.T) {
	res := Failure("abc", errors.New("boom"), map[string]string{"x": "1"})
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded Result
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Code != CodeFailed || decoded.Err == nil || decoded.Err.Message != "boom" {
		t.Errorf("unexpected result: %+v", decoded)
	}
	if decoded.Payload["x"] != "1" {
		t.Errorf("payload not preserved: %v", decoded.Payload)
	}
}

func TestResult_ReservedFieldsWin(t *testing.T) {
	b, _ := json.Marshal(Success("abc", map[string]any{"code": 1, "ref": "other"}))

	var decoded Result
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Code != CodeOK || decoded.Ref != "abc" {
		t.Errorf("reserved fields overwritten: %+v", decoded)
	}
}

func TestResult_Codes(t *testing.T) {
	b, err := json.Marshal(Rejected("abc", "bad type"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"code":400,"err":{"message":"bad type"},"ref":"abc"}` {
		t.Errorf("unexpected json %s", b)
	}
	if CodeOK != 200 || CodeFailed != 500 {
		t.Errorf("unexpected codes %d %d", CodeOK, CodeFailed)
	}
}
