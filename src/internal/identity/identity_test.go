package identity

import (
	"testing"

	"session-relay-svc/src/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromQuery(t *testing.T) {
	key, err := FromQuery("42", "user")
	require.NoError(t, err)
	assert.Equal(t, Key{Role: RoleUser, ID: 42}, key)

	key, err = FromQuery("7", "employee")
	require.NoError(t, err)
	assert.Equal(t, Key{Role: RoleEmployee, ID: 7}, key)
}

func TestFromQueryUnknownRoleFallsBackToEmployee(t *testing.T) {
	key, err := FromQuery("3", "superadmin")
	require.NoError(t, err)
	assert.Equal(t, RoleEmployee, key.Role)
}

func TestFromQueryRejectsMissingIdentity(t *testing.T) {
	_, err := FromQuery("", "user")
	assert.ErrorIs(t, err, models.ErrMissingIdentity)

	_, err = FromQuery("42", "")
	assert.ErrorIs(t, err, models.ErrMissingIdentity)
}

func TestFromQueryRejectsNonNumericID(t *testing.T) {
	_, err := FromQuery("abc", "user")
	assert.ErrorIs(t, err, models.ErrInvalidIdentity)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "user42", Key{Role: RoleUser, ID: 42}.String())
	assert.Equal(t, "employee7", Key{Role: RoleEmployee, ID: 7}.String())
}

func TestRolesShareNumericIDs(t *testing.T) {
	user := Key{Role: RoleUser, ID: 42}
	employee := Key{Role: RoleEmployee, ID: 42}
	assert.NotEqual(t, user.String(), employee.String())
}
