package events

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := TaskStatus{TaskID: "t1", Status: "RUNNING", Timestamp: 1700000000000}
	frame, err := Encode(TypeTaskStatus, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text := string(frame)
	if !strings.HasPrefix(text, "event: task_status\ndata: ") {
		t.Fatalf("unexpected frame prefix: %q", text)
	}
	if !strings.HasSuffix(text, "\n\n") {
		t.Fatalf("frame must end with a blank line: %q", text)
	}

	typ, data, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if typ != TypeTaskStatus {
		t.Fatalf("unexpected type %q", typ)
	}
	var got TaskStatus
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if got != payload {
		t.Fatalf("round trip mismatch: %+v != %+v", got, payload)
	}
}

func TestDecodeMalformedFrames(t *testing.T) {
	cases := []string{
		"",
		"data: {}\n\n",
		"event: x\n\n",
		"event: x",
	}
	for _, frame := range cases {
		if _, _, err := Decode([]byte(frame)); err == nil {
			t.Fatalf("expected error for %q", frame)
		}
	}
}

func TestSnapshottedTypes(t *testing.T) {
	snapshotted := []Type{TypeInfo, TypeBook, TypeAutoBuyState, TypePositionState}
	for _, typ := range snapshotted {
		if !typ.Snapshotted() {
			t.Fatalf("%s must be snapshot cached", typ)
		}
	}
	transient := []Type{TypeSignal, TypeAutoSellState, TypeTaskStatus, TypeTaskEnd}
	for _, typ := range transient {
		if typ.Snapshotted() {
			t.Fatalf("%s must not be snapshot cached", typ)
		}
	}
}
