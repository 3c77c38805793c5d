package models

// User is the authenticated caller, as carried by the bearer token.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Participant returns the user as one side of an invite.
func (u *User) Participant() Participant {
	return Participant{UserID: u.ID, Name: u.Name, Avatar: u.Avatar}
}
