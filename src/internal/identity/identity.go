package identity

import (
	"fmt"
	"strconv"

	"session-relay-svc/src/internal/models"
)

// Role distinguishes the two account namespaces sharing numeric ids.
type Role string

const (
	RoleUser     Role = "user"
	RoleEmployee Role = "employee"
)

// ParseRole maps the connection query value onto the role enum. Anything
// that is not exactly "user" is an employee; only an empty value is
// rejected by FromQuery.
func ParseRole(raw string) Role {
	if raw == RoleUser.String() {
		return RoleUser
	}
	return RoleEmployee
}

func (r Role) String() string {
	return string(r)
}

// Key identifies one logical account across all of its open tabs. It is
// the partition key for presence records, rooms and routing topics.
type Key struct {
	Role Role
	ID   int64
}

// FromQuery builds a Key from the raw connection query parameters,
// failing fast when either part is missing: an identity-less connection
// cannot be admitted.
func FromQuery(rawID, rawRole string) (Key, error) {
	if rawID == "" || rawRole == "" {
		return Key{}, models.ErrMissingIdentity
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w: id %q is not numeric", models.ErrInvalidIdentity, rawID)
	}

	return Key{Role: ParseRole(rawRole), ID: id}, nil
}

// String renders the presence snapshot key, the role and id concatenated
// ("user42", "employee7").
func (k Key) String() string {
	return string(k.Role) + strconv.FormatInt(k.ID, 10)
}
