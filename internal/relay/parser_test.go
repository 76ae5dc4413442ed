package relay

import "testing"

func TestParseMessageEvent(t *testing.T) {
	msg, perr := ParseMessage([]byte(`["EVENT", {"id":"x"}]`))
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if msg.Type != MessageEvent {
		t.Errorf("Type = %v", msg.Type)
	}
}

func TestParseMessageReq(t *testing.T) {
	msg, perr := ParseMessage([]byte(`["REQ", "sub1", {"kinds":[1]}]`))
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if msg.Type != MessageReq || msg.SubscriptionID != "sub1" || len(msg.FilterJSON) != 1 {
		t.Errorf("unexpected REQ decode: %+v", msg)
	}
}

func TestParseMessageCloseWithBadSubscriptionID(t *testing.T) {
	_, perr := ParseMessage([]byte(`["CLOSE", ""]`))
	if perr == nil {
		t.Fatal("expected error for empty subscription id")
	}
	if perr.Kind != ErrInvalidSubscriptionId {
		t.Errorf("Kind = %v", perr.Kind)
	}
}

func TestParseMessageUnknownType(t *testing.T) {
	_, perr := ParseMessage([]byte(`["BOGUS"]`))
	if perr == nil || perr.Kind != ErrUnknownMessageType {
		t.Fatalf("expected ErrUnknownMessageType, got %v", perr)
	}
}

func TestParseMessageNotArray(t *testing.T) {
	_, perr := ParseMessage([]byte(`{"not":"an array"}`))
	if perr == nil || perr.Kind != ErrNotArray {
		t.Fatalf("expected ErrNotArray, got %v", perr)
	}
}

func TestValidateSubscriptionIDLength(t *testing.T) {
	if err := ValidateSubscriptionID(""); err == nil {
		t.Error("empty subscription id should be rejected")
	}
	ok := make([]byte, MaxSubscriptionIDLength)
	for i := range ok {
		ok[i] = 'a'
	}
	if err := ValidateSubscriptionID(string(ok)); err != nil {
		t.Errorf("64-char id should be accepted: %v", err)
	}
	tooLong := make([]byte, MaxSubscriptionIDLength+1)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	if err := ValidateSubscriptionID(string(tooLong)); err == nil {
		t.Error("65-char id should be rejected")
	}
}
