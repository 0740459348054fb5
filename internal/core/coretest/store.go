package coretest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Collab/internal/domain"
)

// Store is an in-memory editor, sketch, message and membership store.
type Store struct {
	mu       sync.Mutex
	editors  map[domain.SessionID]string
	sketches map[domain.SessionID][]domain.SketchAction
	members  map[domain.SessionID]map[domain.UserID]bool
	messages []domain.ChatMessage

	editorSaves map[domain.SessionID]int
	sketchSaves map[domain.SessionID]int

	loadErr   error
	saveErr   error
	memberErr error
	appendErr error
}

func NewStore() *Store {
	return &Store{
		editors:     make(map[domain.SessionID]string),
		sketches:    make(map[domain.SessionID][]domain.SketchAction),
		members:     make(map[domain.SessionID]map[domain.UserID]bool),
		editorSaves: make(map[domain.SessionID]int),
		sketchSaves: make(map[domain.SessionID]int),
	}
}

func (s *Store) AddMember(sid domain.SessionID, uids ...domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[sid]
	if !ok {
		set = make(map[domain.UserID]bool)
		s.members[sid] = set
	}
	for _, uid := range uids {
		set[uid] = true
	}
}

func (s *Store) PutEditor(sid domain.SessionID, text string) {
	s.mu.Lock()
	s.editors[sid] = text
	s.mu.Unlock()
}

func (s *Store) PutSketch(sid domain.SessionID, actions ...domain.SketchAction) {
	s.mu.Lock()
	s.sketches[sid] = slices.Clone(actions)
	s.mu.Unlock()
}

func (s *Store) FailLoads(err error) {
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()
}

func (s *Store) FailSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

func (s *Store) FailMembership(err error) {
	s.mu.Lock()
	s.memberErr = err
	s.mu.Unlock()
}

func (s *Store) FailAppends(err error) {
	s.mu.Lock()
	s.appendErr = err
	s.mu.Unlock()
}

func (s *Store) Editor(sid domain.SessionID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.editors[sid]
	return text, ok
}

func (s *Store) Sketch(sid domain.SessionID) ([]domain.SketchAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions, ok := s.sketches[sid]
	return slices.Clone(actions), ok
}

// Saves reports how many editor and sketch writes reached the store.
func (s *Store) Saves(sid domain.SessionID) (editor, sketch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editorSaves[sid], s.sketchSaves[sid]
}

func (s *Store) ChatMessages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

func (s *Store) IsMember(_ context.Context, sid domain.SessionID, uid domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memberErr != nil {
		return false, s.memberErr
	}
	return s.members[sid][uid], nil
}

func (s *Store) LoadEditor(_ context.Context, sid domain.SessionID) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return "", false, s.loadErr
	}
	text, ok := s.editors[sid]
	return text, ok, nil
}

func (s *Store) SaveEditor(_ context.Context, sid domain.SessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.editors[sid] = text
	s.editorSaves[sid]++
	return nil
}

func (s *Store) LoadSketch(_ context.Context, sid domain.SessionID) ([]domain.SketchAction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	actions, ok := s.sketches[sid]
	return slices.Clone(actions), ok, nil
}

func (s *Store) SaveSketch(_ context.Context, sid domain.SessionID, actions []domain.SketchAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.sketches[sid] = slices.Clone(actions)
	s.sketchSaves[sid]++
	return nil
}

func (s *Store) AppendMessage(_ context.Context, sid domain.SessionID, uid domain.UserID, text string) (domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return domain.ChatMessage{}, s.appendErr
	}
	msg := domain.ChatMessage{
		ID:        int64(len(s.messages) + 1),
		SessionID: sid,
		UserID:    uid,
		Content:   text,
		CreatedAt: time.Date(2024, 1, 1, 12, 0, len(s.messages), 0, time.UTC),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}
