package wire

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env, err := Encode(EventPTYInput, PTYInput{SessionID: "abcd1234", Input: "ls\n"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if env.Event != EventPTYInput {
		t.Fatalf("unexpected event: %s", env.Event)
	}
	var got PTYInput
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.SessionID != "abcd1234" || got.Input != "ls\n" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	env, _ := Encode(EventHeartbeat, Heartbeat{SessionID: "deadbeef"})
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["event"] != string(EventHeartbeat) {
		t.Fatalf("unexpected event key: %v", raw["event"])
	}
}
