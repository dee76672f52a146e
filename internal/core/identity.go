package core

// Identity is the authenticated user bound to a session. It is established
// once, at connection time, and never mutated.
type Identity struct {
	UserID   int64
	Username string
	IsGuest  bool
}
