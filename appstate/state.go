package appstate

import (
	"errors"
	"sync"
)

var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrInvalidUser = errors.New("user id and token are required")
)

// User is the signed-in account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Token string `json:"-"`
}

// Workspace groups boards.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Selection is what the sidebar currently points at.
type Selection struct {
	WorkspaceID string `json:"workspaceId"`
	BoardID     string `json:"boardId"`
	Item        string `json:"item"`
}

// Snapshot is a consistent copy of the application state.
type Snapshot struct {
	User      *User
	Workspace *Workspace
	Selection Selection
}

// State is the application context shared by the views of one signed-in
// session. It is created on login and torn down on logout; all changes go
// through its action methods.
type State struct {
	mu        sync.RWMutex
	user      *User
	workspace *Workspace
	selection Selection

	nextID    int
	listeners map[int]func(Snapshot)
}

// New creates an empty, signed-out state.
func New() *State {
	return &State{listeners: make(map[int]func(Snapshot))}
}

// Login signs u in and clears any previous selection.
func (s *State) Login(u User) error {
	if u.ID == "" || u.Token == "" {
		return ErrInvalidUser
	}

	s.mu.Lock()
	s.user = &u
	s.workspace = nil
	s.selection = Selection{}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Logout tears the session down.
func (s *State) Logout() {
	s.mu.Lock()
	s.user = nil
	s.workspace = nil
	s.selection = Selection{}
	s.mu.Unlock()

	s.notify()
}

// SelectWorkspace makes w current and resets the board selection.
func (s *State) SelectWorkspace(w Workspace) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	s.workspace = &w
	s.selection = Selection{WorkspaceID: w.ID}
	s.mu.Unlock()

	s.notify()
	return nil
}

// SelectBoard points the sidebar at boardID.
func (s *State) SelectBoard(boardID string) error {
	return s.updateSelection(func(sel *Selection) {
		sel.BoardID = boardID
		sel.Item = "board"
	})
}

// SelectItem points the sidebar at a non-board entry such as "calendar".
func (s *State) SelectItem(item string) error {
	return s.updateSelection(func(sel *Selection) {
		sel.Item = item
	})
}

// CurrentUser returns the signed-in user.
func (s *State) CurrentUser() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// CurrentWorkspace returns the selected workspace.
func (s *State) CurrentWorkspace() (Workspace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.workspace == nil {
		return Workspace{}, false
	}
	return *s.workspace, true
}

// Selection returns the current sidebar selection.
func (s *State) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// Snapshot returns a copy of the whole state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// Subscribe calls fn after every change until the returned func is called.
func (s *State) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *State) updateSelection(apply func(sel *Selection)) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	apply(&s.selection)
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *State) snapshot() Snapshot {
	snap := Snapshot{Selection: s.selection}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	if s.workspace != nil {
		w := *s.workspace
		snap.Workspace = &w
	}
	return snap
}

func (s *State) notify() {
	s.mu.RLock()
	snap := s.snapshot()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
