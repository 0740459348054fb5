// Package rtc checks relayed WebRTC signaling payloads. The coordinator
// never terminates media itself.
package rtc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Collab/internal/protocol"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

var (
	ErrEmptySDP         = errors.New("empty sdp")
	ErrCandidateShape   = errors.New("candidate must be an object or a string")
	ErrUnsupportedRelay = errors.New("not an sdp relay type")
)

type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// ValidateSDP parses sdp as the session description of an offer or answer.
func (Validator) ValidateSDP(t protocol.Type, sdp string) error {
	var typ webrtc.SDPType
	switch t {
	case protocol.TypeWebRTCOffer:
		typ = webrtc.SDPTypeOffer
	case protocol.TypeWebRTCAnswer:
		typ = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedRelay, t)
	}
	if strings.TrimSpace(sdp) == "" {
		return ErrEmptySDP
	}
	desc := webrtc.SessionDescription{Type: typ, SDP: sdp}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("parse %s sdp: %w", typ, err)
	}
	return nil
}

// ValidateCandidate accepts an ICE candidate init object or a bare
// candidate line. An empty candidate line marks end of candidates.
func (Validator) ValidateCandidate(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ErrCandidateShape
	}

	var line string
	switch trimmed[0] {
	case '{':
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(trimmed, &init); err != nil {
			return fmt.Errorf("decode candidate init: %w", err)
		}
		line = init.Candidate
	case '"':
		if err := json.Unmarshal(trimmed, &line); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
	default:
		return ErrCandidateShape
	}

	line = strings.TrimPrefix(strings.TrimSpace(line), "candidate:")
	if line == "" {
		return nil
	}
	if _, err := ice.UnmarshalCandidate(line); err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}
	return nil
}
