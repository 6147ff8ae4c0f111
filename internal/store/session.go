package store

import "slices"

// Tab is the active view of the client.
type Tab string

const (
	TabTranscript  Tab = "transcript"
	TabGeneratePRD Tab = "generate-prd"
	TabUIDesigns   Tab = "ui-designs"
)

// Valid reports whether t is a known tab.
func (t Tab) Valid() bool {
	switch t {
	case TabTranscript, TabGeneratePRD, TabUIDesigns:
		return true
	}
	return false
}

// Session is the transient, non-persisted part of the store. It resets on
// every process start.
type Session struct {
	FocusedID          string   `json:"focusedId"`
	IsRecording        bool     `json:"isRecording"`
	IsPaused           bool     `json:"isPaused"`
	IsProcessing       bool     `json:"isProcessing"`
	Error              string   `json:"error"`
	SelectedFragments  []string `json:"selectedFragments"`
	ActiveTab          Tab      `json:"activeTab"`
	IsGeneratingPrompt bool     `json:"isGeneratingPrompt"`
	IsGeneratingImages bool     `json:"isGeneratingImages"`
}

func newSession() Session {
	return Session{
		SelectedFragments: []string{},
		ActiveTab:         TabTranscript,
	}
}

// Session returns a copy of the transient session state.
func (s *Store) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.session
	out.SelectedFragments = slices.Clone(s.session.SelectedFragments)
	return out
}

func (s *Store) updateSession(fn func(sess *Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.session)
}

// SetFocused focuses the document with the given id; "" clears focus.
// Focusing an unknown id is ignored. Returns the previously focused id.
func (s *Store) SetFocused(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.session.FocusedID
	if id != "" && s.indexLocked(id) < 0 {
		return prev
	}
	s.session.FocusedID = id
	return prev
}

// FocusedID returns the focused document id, or "".
func (s *Store) FocusedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.FocusedID
}

// SetError records a user-visible error; "" clears it.
func (s *Store) SetError(msg string) {
	s.updateSession(func(sess *Session) { sess.Error = msg })
}

// ClearError clears the user-visible error.
func (s *Store) ClearError() {
	s.SetError("")
}

// StartRecording marks a recording as active and clears any error.
func (s *Store) StartRecording() {
	s.updateSession(func(sess *Session) {
		sess.IsRecording = true
		sess.IsPaused = false
		sess.Error = ""
	})
}

func (s *Store) PauseRecording() {
	s.updateSession(func(sess *Session) { sess.IsPaused = true })
}

func (s *Store) ResumeRecording() {
	s.updateSession(func(sess *Session) { sess.IsPaused = false })
}

func (s *Store) StopRecording() {
	s.updateSession(func(sess *Session) {
		sess.IsRecording = false
		sess.IsPaused = false
	})
}

func (s *Store) SetProcessing(v bool) {
	s.updateSession(func(sess *Session) { sess.IsProcessing = v })
}

// SetSelectedFragments replaces the selected context fragment ids,
// dropping duplicates while keeping first-seen order.
func (s *Store) SetSelectedFragments(ids []string) {
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(uniq, id) {
			uniq = append(uniq, id)
		}
	}
	s.updateSession(func(sess *Session) { sess.SelectedFragments = uniq })
}

// SetActiveTab switches the active view. Unknown tabs are ignored.
func (s *Store) SetActiveTab(t Tab) bool {
	if !t.Valid() {
		return false
	}
	s.updateSession(func(sess *Session) { sess.ActiveTab = t })
	return true
}

func (s *Store) SetGeneratingPrompt(v bool) {
	s.updateSession(func(sess *Session) { sess.IsGeneratingPrompt = v })
}

func (s *Store) SetGeneratingImages(v bool) {
	s.updateSession(func(sess *Session) { sess.IsGeneratingImages = v })
}
