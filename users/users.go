// Package users holds the credential policies the FTP server authenticates sessions with.
package users

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound is returned by LocalUsers.Get for unknown usernames.
var ErrUserNotFound = errors.New("user not found")

// Authenticator decides whether a session may log in.
type Authenticator interface {
	// NeedUsername reports whether USER must carry a name
	NeedUsername() bool
	// NeedPassword reports whether username has to send PASS before being logged in
	NeedPassword(username string) bool
	// Authenticate checks the credentials sent from remoteIP
	Authenticate(username, password, remoteIP string) bool
}

// NoAuth lets everybody in without a name or a password.
type NoAuth struct{}

func (NoAuth) NeedUsername() bool               { return false }
func (NoAuth) NeedPassword(string) bool         { return false }
func (NoAuth) Authenticate(_, _, _ string) bool { return true }

type User struct {
	Username string
	hash     []byte
	IPs      map[string]*netip.Prefix
}

// FindIP finds an IP in the prefixes of the user.
// A user without prefixes may connect from anywhere.
func (u *User) FindIP(ip string) bool {
	if len(u.IPs) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, v := range u.IPs {
		if v.Contains(addr) {
			return true
		}
	}
	return false
}

// AddIP adds an IP prefix to the user
// if the ip is without the prefix, it will add /32 (or /128 for IPv6)
func (u *User) AddIP(ip string) error {
	if !strings.Contains(ip, "/") {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return fmt.Errorf("error parsing IP: %w", err)
		}
		ip = netip.PrefixFrom(addr, addr.BitLen()).String()
	}

	prefix, err := netip.ParsePrefix(ip)
	if err != nil {
		return fmt.Errorf("error parsing IP: %w", err)
	}

	u.IPs[prefix.String()] = &prefix
	return nil
}

// RemoveIP removes an IP prefix from the user
func (u *User) RemoveIP(ip string) {
	if !strings.Contains(ip, "/") {
		if addr, err := netip.ParseAddr(ip); err == nil {
			ip = netip.PrefixFrom(addr, addr.BitLen()).String()
		}
	}
	delete(u.IPs, ip)
}

// CheckPassword compares password with the stored bcrypt hash
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(u.hash, []byte(password)) == nil
}

var _ Authenticator = &LocalUsers{}

// LocalUsers is a fixed credential table kept in memory.
type LocalUsers struct {
	users map[string]*User
	mu    sync.RWMutex
}

func NewLocalUsers() *LocalUsers {
	return &LocalUsers{
		users: make(map[string]*User),
	}
}

// List returns a copy of the table
func (u *LocalUsers) List() map[string]*User {
	u.mu.RLock()
	defer u.mu.RUnlock()
	list := make(map[string]*User, len(u.users))
	for k, v := range u.users {
		list[k] = v
	}
	return list
}

func (u *LocalUsers) Get(username string) (*User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[username]
	if !ok {
		return nil, fmt.Errorf("%s: %w", username, ErrUserNotFound)
	}
	return user, nil
}

// Add hashes pass and stores the user, replacing an existing one with the same name
func (u *LocalUsers) Add(username, pass string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}
	return u.add(username, hash), nil
}

// AddHashed stores a user whose password is already a bcrypt hash
func (u *LocalUsers) AddHashed(username, hash string) (*User, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid bcrypt hash for %s: %w", username, err)
	}
	return u.add(username, []byte(hash)), nil
}

func (u *LocalUsers) add(username string, hash []byte) *User {
	u.mu.Lock()
	defer u.mu.Unlock()

	newUser := &User{
		Username: username,
		hash:     hash,
		IPs:      make(map[string]*netip.Prefix),
	}
	u.users[newUser.Username] = newUser
	return newUser
}

func (u *LocalUsers) Remove(username string) *User {
	u.mu.Lock()
	defer u.mu.Unlock()
	oldUser := u.users[username]
	delete(u.users, username)
	return oldUser
}

func (u *LocalUsers) NeedUsername() bool { return true }

func (u *LocalUsers) NeedPassword(string) bool { return true }

// Authenticate checks the password and, when the user has an allow list, the remote address
func (u *LocalUsers) Authenticate(username, password, remoteIP string) bool {
	user, err := u.Get(username)
	if err != nil {
		return false
	}
	return user.CheckPassword(password) && user.FindIP(remoteIP)
}
