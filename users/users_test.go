package users

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func Test_NoAuth(t *testing.T) {
	var auth Authenticator = NoAuth{}
	assert.False(t, auth.NeedUsername())
	assert.False(t, auth.NeedPassword("anyone"))
	assert.True(t, auth.Authenticate("", "", "10.0.0.1"))
}

func Test_LocalUsersAuthenticate(t *testing.T) {
	u := NewLocalUsers()
	_, err := u.Add("alice", "secret")
	require.NoError(t, err)

	assert.True(t, u.NeedUsername())
	assert.True(t, u.NeedPassword("alice"))
	assert.True(t, u.Authenticate("alice", "secret", "127.0.0.1"))
	assert.False(t, u.Authenticate("alice", "wrong", "127.0.0.1"))
	assert.False(t, u.Authenticate("bob", "secret", "127.0.0.1"))

	_, err = u.Get("bob")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func Test_LocalUsersAddHashed(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	u := NewLocalUsers()
	_, err = u.AddHashed("carol", string(hash))
	require.NoError(t, err)
	assert.True(t, u.Authenticate("carol", "pw", "127.0.0.1"))

	_, err = u.AddHashed("dave", "not-a-hash")
	assert.Error(t, err)
}

func Test_UserIPAllowList(t *testing.T) {
	u := NewLocalUsers()
	user, err := u.Add("alice", "secret")
	require.NoError(t, err)

	// no prefixes, any address
	assert.True(t, u.Authenticate("alice", "secret", "203.0.113.9"))

	require.NoError(t, user.AddIP("192.168.1.0/24"))
	require.NoError(t, user.AddIP("10.0.0.5"))
	assert.Error(t, user.AddIP("not-an-ip"))

	assert.True(t, user.FindIP("192.168.1.77"))
	assert.True(t, user.FindIP("10.0.0.5"))
	assert.True(t, user.FindIP("::ffff:10.0.0.5"))
	assert.False(t, user.FindIP("10.0.0.6"))
	assert.False(t, user.FindIP("garbage"))
	assert.False(t, u.Authenticate("alice", "secret", "203.0.113.9"))

	user.RemoveIP("10.0.0.5")
	assert.False(t, user.FindIP("10.0.0.5"))
}

func Test_LocalUsersRemoveAndList(t *testing.T) {
	u := NewLocalUsers()
	_, err := u.Add("alice", "a")
	require.NoError(t, err)
	_, err = u.Add("bob", "b")
	require.NoError(t, err)
	assert.Len(t, u.List(), 2)

	removed := u.Remove("alice")
	require.NotNil(t, removed)
	assert.Equal(t, "alice", removed.Username)
	assert.Len(t, u.List(), 1)
	assert.Nil(t, u.Remove("alice"))
}
