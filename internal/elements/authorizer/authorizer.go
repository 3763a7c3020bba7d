// Package authorizer implements the simple user/password authorizer,
// grounded on simple_authorizer.cc: a synchronous
// username/password check backed by a state keeper. The reference
// implementation hashes passwords with the Unix `crypt()` DES function;
// this package follows pkg/auth/password.go and uses bcrypt instead.
package authorizer

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "simple_authorizer"

const userKeyPrefix = "user:"

// Request is what a client presents for authorization.
type Request struct {
	User   string
	Passwd string
}

// Reply is the authorizer's verdict. Authorized grants the session
// TimeLimitMs of validity (0 = no limit known/applicable).
type Reply struct {
	Authorized bool
	TimeLimitMs int64
}

// Authorizer checks a (user, password) pair against a state-keeper-backed
// map of bcrypt hashes.
type Authorizer struct {
	name        string
	timeLimitMs int64
	keeper      statekeeper.Keeper
	logger      logging.Logger

	mu        sync.RWMutex
	passwords map[string]string // user -> bcrypt hash
}

// New constructs an authorizer, persisting user hashes under name's state
// keeper namespace.
func New(name string, timeLimitMs int64, keeper statekeeper.Keeper, logger logging.Logger) *Authorizer {
	return &Authorizer{
		name:        name,
		timeLimitMs: timeLimitMs,
		keeper:      keeper,
		logger:      logger,
		passwords:   make(map[string]string),
	}
}

// Initialize loads previously persisted users from the state keeper.
func (a *Authorizer) Initialize() bool {
	if a.keeper == nil {
		if a.logger != nil {
			a.logger.Warn("authorizer: no state keeper, starting with no users")
		}
		return true
	}
	kv, err := a.keeper.GetKeyValues(context.Background(), a.name, userKeyPrefix)
	if err != nil {
		if a.logger != nil {
			a.logger.WithError(err).Warn("authorizer: failed to load state")
		}
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range kv {
		user := strings.TrimPrefix(k, userKeyPrefix)
		a.passwords[user] = v
	}
	return true
}

// Authorize checks req synchronously.
func (a *Authorizer) Authorize(req Request) Reply {
	a.mu.RLock()
	hash, ok := a.passwords[req.User]
	a.mu.RUnlock()
	if !ok {
		return Reply{Authorized: false}
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Passwd)) != nil {
		return Reply{Authorized: false}
	}
	return Reply{Authorized: true, TimeLimitMs: a.timeLimitMs}
}

// SetUserPassword adds or updates a user's password.
func (a *Authorizer) SetUserPassword(user, passwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if a.keeper != nil {
		txn := a.keeper.Begin(a.name)
		txn.SetValue(userKeyPrefix+user, string(hash))
		if err := txn.Commit(context.Background()); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.passwords[user] = string(hash)
	a.mu.Unlock()
	return nil
}

// DeleteUser removes a user.
func (a *Authorizer) DeleteUser(user string) error {
	if a.keeper != nil {
		txn := a.keeper.Begin(a.name)
		txn.DeleteValue(userKeyPrefix + user)
		if err := txn.Commit(context.Background()); err != nil {
			return err
		}
	}
	a.mu.Lock()
	delete(a.passwords, user)
	a.mu.Unlock()
	return nil
}

// GetUsers lists every known username (no hashes) for RPC reporting.
func (a *Authorizer) GetUsers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.passwords))
	for u := range a.passwords {
		out = append(out, u)
	}
	return out
}
