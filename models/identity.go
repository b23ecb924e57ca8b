package models

// Identity is the authenticated user behind a relay connection.
// It is established once at admission and never changes for that connection.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Valid reports whether the identity carries a user id.
func (i Identity) Valid() bool {
	return i.UserID != ""
}
