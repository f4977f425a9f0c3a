package ws

import "testing"

func TestParseAckMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"ack","delivery_id":42}`))
	if err != nil {
		t.Fatalf("valid ack rejected: %v", err)
	}
	if msg.Type != TypeAck || msg.DeliveryID != 42 {
		t.Fatalf("unexpected parse %+v", msg)
	}
}

func TestParseExecMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"exec","delivery_id":7,"status":"filled","filled_qty":1.5,"avg_price":1.0842}`))
	if err != nil {
		t.Fatalf("valid exec rejected: %v", err)
	}
	if msg.DeliveryID != 7 || !msg.Executed() {
		t.Fatalf("unexpected parse %+v", msg)
	}
}

func TestParseExecFailureStatus(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"exec","delivery_id":7,"status":"rejected","error":"insufficient margin"}`))
	if err != nil {
		t.Fatalf("valid exec rejected: %v", err)
	}
	if msg.Executed() {
		t.Fatalf("rejected status must not count as executed: %+v", msg)
	}
}

func TestMalformedMessagesDropped(t *testing.T) {
	cases := []string{
		`not json`,
		`{}`,
		`{"type":"ack"}`,
		`{"type":"exec","delivery_id":7}`,
		`{"type":"subscribe","delivery_id":3}`,
		`{"delivery_id":3}`,
	}
	for _, c := range cases {
		if _, err := ParseClientMessage([]byte(c)); err == nil {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}
