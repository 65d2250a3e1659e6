package server

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/rendercast/av/video"
	"github.com/opd-ai/rendercast/render"
	"github.com/opd-ai/rendercast/scene"
)

// session is one client's render state. Render resources are allocated on
// the first valid frame request.
type session struct {
	id      int32
	res     video.Resolution
	version int32

	mu       sync.Mutex
	encoder  video.Encoder
	scene    *scene.Scene
	targets  *render.TargetRing
	lastSeen time.Time
	closed   bool
}

func newSession(id int32, res video.Resolution, version int32, encoder video.Encoder, now time.Time) *session {
	return &session{
		id:       id,
		res:      res,
		version:  version,
		encoder:  encoder,
		lastSeen: now,
	}
}

// prepare marks the session seen at now, allocates its scene and targets if
// needed and returns the scene plus the next render target.
func (s *session) prepare(now time.Time, reg *scene.Registry, db scene.Database, buffers int) (*scene.Scene, *render.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrSessionClosed
	}
	s.lastSeen = now
	if s.targets == nil {
		targets, err := render.NewTargetRing(buffers, s.res.Width, s.res.Height)
		if err != nil {
			return nil, nil, err
		}
		s.targets = targets
		s.scene = scene.NewScene(reg, db)
	}
	return s.scene, s.targets.Next(), nil
}

// setActive flags the session's scene, if any.
func (s *session) setActive(active bool) {
	s.mu.Lock()
	sc := s.scene
	s.mu.Unlock()
	if sc != nil {
		sc.SetActive(active)
	}
}

// encode runs the session's encoder on one rendered picture.
func (s *session) encode(rgba []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.encoder.Encode(rgba)
}

// idle returns how long the session has gone without a valid request.
func (s *session) idle(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

func (s *session) initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets != nil
}

// close releases the encoder, scene and targets. Later calls are no-ops.
func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.scene = nil
	s.targets = nil
	return s.encoder.Close()
}

// sessionTable maps session ids to sessions. Ids are never reused.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[int32]*session
	nextID   int32
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[int32]*session)}
}

// add registers a session built for the next id.
func (t *sessionTable) add(build func(id int32) *session) *session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := build(t.nextID)
	t.sessions[s.id] = s
	t.nextID++
	return s
}

func (t *sessionTable) get(id int32) *session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

func (t *sessionTable) remove(id int32) *session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.sessions[id]
	delete(t.sessions, id)
	return s
}

// list returns the sessions ordered by id.
func (t *sessionTable) list() []*session {
	t.mu.RLock()
	out := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (t *sessionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
