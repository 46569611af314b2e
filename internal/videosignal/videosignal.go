// Package videosignal implements the UI's signaling-only WebRTC
// surface. Full media negotiation and transport stay behind an
// external Collaborator; this package only carries the
// session-description and ICE-candidate payloads the StreamStart /
// WebRtcAnswer / WebRtcCandidate commands need.
package videosignal

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// Session tracks one in-flight signaling exchange for a connection.
type Session struct {
	ConnID string
	Offer  *webrtc.SessionDescription
	Answer *webrtc.SessionDescription

	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
}

// Collaborator is the external, out-of-scope party that actually
// negotiates and streams media; the core only routes signaling
// payloads to it.
type Collaborator interface {
	HandleOffer(connID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	HandleCandidate(connID string, candidate webrtc.ICECandidateInit) error
}

// Manager tracks one Session per connection and forwards signaling
// payloads to the configured Collaborator.
type Manager struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	collaborator Collaborator
}

func NewManager(collaborator Collaborator) *Manager {
	return &Manager{sessions: make(map[string]*Session), collaborator: collaborator}
}

// StreamStart begins a signaling session for connID, returning the
// collaborator's answer.
func (m *Manager) StreamStart(connID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if m.collaborator == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("videosignal: no video collaborator configured")
	}
	answer, err := m.collaborator.HandleOffer(connID, offer)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("videosignal: handle offer: %w", err)
	}
	m.mu.Lock()
	m.sessions[connID] = &Session{ConnID: connID, Offer: &offer, Answer: &answer}
	m.mu.Unlock()
	return answer, nil
}

// WebRtcAnswer records a late-arriving answer for a session the UI
// itself initiated as the offering side.
func (m *Manager) WebRtcAnswer(connID string, answer webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return fmt.Errorf("videosignal: no session for connection %q", connID)
	}
	s.Answer = &answer
	return nil
}

// WebRtcCandidate forwards one ICE candidate to the collaborator.
func (m *Manager) WebRtcCandidate(connID string, candidate webrtc.ICECandidateInit) error {
	m.mu.Lock()
	s, ok := m.sessions[connID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("videosignal: no session for connection %q", connID)
	}
	s.mu.Lock()
	s.candidates = append(s.candidates, candidate)
	s.mu.Unlock()

	if m.collaborator == nil {
		return fmt.Errorf("videosignal: no video collaborator configured")
	}
	return m.collaborator.HandleCandidate(connID, candidate)
}

// End drops a connection's signaling session, e.g. on disconnect.
func (m *Manager) End(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, connID)
}
