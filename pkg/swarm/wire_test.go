package swarm

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := NodeState{
		ID:       "node-a1",
		Syntropy: 0.73,
		Safety:   SafetyGreen,
		Seq:      42,
		SentAt:   time.Unix(1700000000, 250_000_000),
	}
	b, err := EncodeState(in)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	out, err := DecodeState(b)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if out.ID != in.ID || out.Seq != in.Seq || out.Safety != in.Safety {
		t.Fatalf("round trip changed fields: %+v != %+v", out, in)
	}
	if math.Abs(out.Syntropy-in.Syntropy) > 1e-9 {
		t.Fatalf("syntropy drifted: %v != %v", out.Syntropy, in.Syntropy)
	}
	if d := out.SentAt.Sub(in.SentAt); d > time.Microsecond || d < -time.Microsecond {
		t.Fatalf("ts drifted by %s", d)
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"id": "x"`,
		"missing id":       `{"syntropy":0.5,"safety":"GREEN","seq":1,"ts":1.0}`,
		"missing syntropy": `{"id":"a","safety":"GREEN","seq":1,"ts":1.0}`,
		"missing ts":       `{"id":"a","syntropy":0.5,"safety":"GREEN","seq":1}`,
		"bad safety":       `{"id":"a","syntropy":0.5,"safety":"AMBER","seq":1,"ts":1.0}`,
		"empty safety":     `{"id":"a","syntropy":0.5,"seq":1,"ts":1.0}`,
	}
	for name, payload := range cases {
		if _, err := DecodeState([]byte(payload)); err == nil {
			t.Errorf("%s: expected decode error, got none", name)
		}
	}
}

func TestDecodeClampsSyntropy(t *testing.T) {
	s, err := DecodeState([]byte(`{"id":"a","syntropy":1.7,"safety":"GREEN","seq":1,"ts":1.0}`))
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if s.Syntropy != 1.0 {
		t.Fatalf("syntropy not clamped: %v", s.Syntropy)
	}
}

func TestParseSafety(t *testing.T) {
	if _, err := ParseSafety("GREEN"); err != nil {
		t.Fatalf("GREEN should parse: %v", err)
	}
	if _, err := ParseSafety("green"); err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("lowercase should be rejected, got %v", err)
	}
}
