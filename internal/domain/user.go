// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
	"unicode/utf8"
)

const MaxUsernameLen = 64

var ErrUserIDInvalid = errors.New("user id must be positive")

type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// Identity is the claim extracted from a verified credential.
// It is fixed for the lifetime of a connection.
type Identity struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewIdentity keeps adapters from building identities with a zero id.
// Overlong usernames are cut at MaxUsernameLen runes.
func NewIdentity(id UserID, username string) (Identity, error) {
	if id <= 0 {
		return Identity{}, ErrUserIDInvalid
	}
	if utf8.RuneCountInString(username) > MaxUsernameLen {
		username = string([]rune(username)[:MaxUsernameLen])
	}
	return Identity{ID: id, Username: username}, nil
}
