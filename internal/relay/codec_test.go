package relay

import (
	"encoding/json"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	if got := WithPrefix(PrefixInvalid, "bad event"); got != "invalid: bad event" {
		t.Errorf("WithPrefix = %q", got)
	}
	if got := WithPrefix("", "plain"); got != "plain" {
		t.Errorf("WithPrefix with empty prefix = %q", got)
	}
}

func TestEncodeOK(t *testing.T) {
	body, err := EncodeOK("eventid", false, WithPrefix(PrefixDuplicate, "already have this event"))
	if err != nil {
		t.Fatal(err)
	}
	var arr []interface{}
	if err := json.Unmarshal([]byte(body), &arr); err != nil {
		t.Fatal(err)
	}
	if arr[0] != "OK" || arr[1] != "eventid" || arr[2] != false {
		t.Errorf("unexpected OK frame: %v", arr)
	}
	if arr[3] != "duplicate: already have this event" {
		t.Errorf("unexpected OK message: %v", arr[3])
	}
}

func TestEncodeEOSEAndClosed(t *testing.T) {
	eose, err := EncodeEOSE("sub1")
	if err != nil {
		t.Fatal(err)
	}
	if eose != `["EOSE","sub1"]` {
		t.Errorf("EncodeEOSE = %s", eose)
	}

	closed, err := EncodeClosed("sub1", WithPrefix(PrefixInvalid, "bad filter"))
	if err != nil {
		t.Fatal(err)
	}
	if closed != `["CLOSED","sub1","invalid: bad filter"]` {
		t.Errorf("EncodeClosed = %s", closed)
	}
}
