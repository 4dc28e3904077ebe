package auth

import "strings"

// Identity is an authenticated user as seen by the sync engine.
type Identity struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	AccessToken string `json:"-"`
}

// State is one observation of the auth subsystem. An empty UserID means no
// user is signed in. Loading is true while the provider is still settling.
type State struct {
	UserID      string `json:"user_id,omitempty"`
	Email       string `json:"email,omitempty"`
	AccessToken string `json:"-"`
	Loading     bool   `json:"loading"`
}

// SignedIn returns the state of an authenticated identity.
func SignedIn(id Identity) State {
	return State{UserID: id.UserID, Email: id.Email, AccessToken: id.AccessToken}
}

// SignedOut is the state with no user.
func SignedOut() State {
	return State{}
}

// Identity returns the identity carried by s, if any.
func (s State) Identity() (Identity, bool) {
	if strings.TrimSpace(s.UserID) == "" {
		return Identity{}, false
	}
	return Identity{UserID: s.UserID, Email: s.Email, AccessToken: s.AccessToken}, true
}
