package swarm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// datagram is the JSON wire form of a NodeState. Timestamps travel as
// float seconds since epoch so payloads stay compatible across
// implementations. Pointer fields let the decoder tell "absent" from
// "zero" and reject incomplete payloads.
type datagram struct {
	ID       string   `json:"id"`
	Syntropy *float64 `json:"syntropy"`
	Safety   string   `json:"safety"`
	Seq      uint64   `json:"seq"`
	Ts       *float64 `json:"ts"`
}

// EncodeState serializes s for the wire. The result stays well under a
// typical datagram MTU.
func EncodeState(s NodeState) ([]byte, error) {
	syn := s.Syntropy
	ts := float64(s.SentAt.UnixNano()) / float64(time.Second)
	return json.Marshal(datagram{
		ID:       s.ID,
		Syntropy: &syn,
		Safety:   string(s.Safety),
		Seq:      s.Seq,
		Ts:       &ts,
	})
}

// DecodeState parses and validates a wire payload. Required fields must
// be present and well-formed; syntropy is clamped to [0,1] on ingest.
func DecodeState(b []byte) (NodeState, error) {
	var d datagram
	if err := json.Unmarshal(b, &d); err != nil {
		return NodeState{}, fmt.Errorf("decode datagram: %w", err)
	}
	if d.ID == "" {
		return NodeState{}, errors.New("datagram missing id")
	}
	if d.Syntropy == nil || math.IsNaN(*d.Syntropy) || math.IsInf(*d.Syntropy, 0) {
		return NodeState{}, errors.New("datagram missing or non-finite syntropy")
	}
	if d.Ts == nil {
		return NodeState{}, errors.New("datagram missing ts")
	}
	safety, err := ParseSafety(d.Safety)
	if err != nil {
		return NodeState{}, err
	}
	sec, frac := math.Modf(*d.Ts)
	return NodeState{
		ID:       d.ID,
		Syntropy: Clamp01(*d.Syntropy),
		Safety:   safety,
		Seq:      d.Seq,
		SentAt:   time.Unix(int64(sec), int64(frac*1e9)),
	}, nil
}
