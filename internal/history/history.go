// Package history keeps the browser-style back/forward trail of
// equipment detail pages viewed through recommendations. The trail is
// rooted at the record opened from the main list; moving backward and
// then opening a different record truncates the abandoned forward
// branch.
package history

import "sync"

// Position describes where the cursor sits in the trail, for rendering
// the (current/total) indicator and the navigation controls.
type Position struct {
	Current int  `json:"current"`
	Total   int  `json:"total"`
	CanBack bool `json:"can_back"`
	CanFwd  bool `json:"can_forward"`
}

// Session is one linear visit trail. The zero value is unusable; call
// Begin first. Safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	root    string
	visited []string
	cursor  int
}

// NewSession creates a trail rooted at the given record id.
func NewSession(rootID string) *Session {
	s := &Session{}
	s.Begin(rootID)
	return s
}

// Begin resets the trail to a single root entry.
func (s *Session) Begin(rootID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = rootID
	s.visited = []string{rootID}
	s.cursor = 0
}

// Append records a visit to id. Re-visiting the current entry is a
// no-op; anything forward of the cursor is discarded first.
func (s *Session) Append(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.visited) == 0 {
		s.visited = []string{id}
		s.root = id
		s.cursor = 0
		return
	}
	if s.visited[s.cursor] == id {
		return
	}
	s.visited = append(s.visited[:s.cursor+1], id)
	s.cursor = len(s.visited) - 1
}

// Navigate moves the cursor by delta, clamped to the trail bounds, and
// returns the record id now under the cursor.
func (s *Session) Navigate(delta int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cursor + delta
	if next < 0 {
		next = 0
	}
	if max := len(s.visited) - 1; next > max {
		next = max
	}
	s.cursor = next
	return s.visited[s.cursor]
}

// ReturnToRoot jumps back to the trail's first entry.
func (s *Session) ReturnToRoot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
	return s.visited[0]
}

// Current returns the record id under the cursor.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.visited) == 0 {
		return ""
	}
	return s.visited[s.cursor]
}

// Visited returns a copy of the full trail in visit order.
func (s *Session) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.visited))
	copy(out, s.visited)
	return out
}

// Position reports the cursor location and which controls apply.
func (s *Session) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Position{
		Current: s.cursor + 1,
		Total:   len(s.visited),
		CanBack: s.cursor > 0,
		CanFwd:  s.cursor < len(s.visited)-1,
	}
}
