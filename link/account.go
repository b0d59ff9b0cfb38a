package link

import (
	"sync"

	"github.com/alexjbarnes/link-connect/api"
)

// SessionState summarizes where an account is in the sign-in flow.
type SessionState int

const (
	RequiresSignUp SessionState = iota
	RequiresVerification
	Verified
)

func (s SessionState) String() string {
	switch s {
	case RequiresSignUp:
		return "requires_sign_up"
	case RequiresVerification:
		return "requires_verification"
	case Verified:
		return "verified"
	default:
		return "unknown"
	}
}

// Account is a Link identity: an email, the current consumer session (nil
// once logged out or before sign-up) and the consumer publishable key.
// Verification calls replace the session in place.
type Account struct {
	Email          string
	PublishableKey string

	mu      sync.RWMutex
	session *ConsumerSession
}

// NewAccount creates an Account.
func NewAccount(email string, session *ConsumerSession, publishableKey string) *Account {
	return &Account{
		Email:          email,
		PublishableKey: publishableKey,
		session:        session,
	}
}

// Session returns the current consumer session, or nil.
func (a *Account) Session() *ConsumerSession {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.session
}

func (a *Account) replaceSession(s *ConsumerSession) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
}

// State derives the sign-in state from the session's verification list.
func (a *Account) State() SessionState {
	s := a.Session()

	switch {
	case s == nil:
		return RequiresSignUp
	case s.HasVerifiedSMSSession() || s.IsVerifiedForSignup():
		return Verified
	default:
		return RequiresVerification
	}
}

func (a *Account) credentials() (api.Credentials, error) {
	if a == nil {
		return api.Credentials{}, &api.IntegrationError{Msg: "account is required"}
	}

	s := a.Session()
	if s == nil || s.ClientSecret == "" {
		return api.Credentials{}, &api.IntegrationError{Msg: "account has no consumer session"}
	}

	return api.Credentials{
		PublishableKey:              a.PublishableKey,
		ConsumerSessionClientSecret: s.ClientSecret,
	}, nil
}

// Subscription identifies an AccountContext observer.
type Subscription uint64

// AccountContext holds the currently signed-in account and notifies
// observers on change. Observers must Unsubscribe when they are torn down.
type AccountContext struct {
	mu        sync.Mutex
	account   *Account
	nextID    Subscription
	observers map[Subscription]func(*Account)
	order     []Subscription
}

// NewAccountContext creates an empty context.
func NewAccountContext() *AccountContext {
	return &AccountContext{observers: make(map[Subscription]func(*Account))}
}

// Account returns the current account, or nil.
func (c *AccountContext) Account() *Account {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.account
}

// Subscribe registers fn to be called with each new account (nil on
// logout). fn is not called with the current value.
func (c *AccountContext) Subscribe(fn func(*Account)) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.observers[id] = fn
	c.order = append(c.order, id)

	return id
}

// Unsubscribe removes an observer. Unknown ids are ignored.
func (c *AccountContext) Unsubscribe(id Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.observers[id]; !ok {
		return
	}

	delete(c.observers, id)

	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Set replaces the current account and notifies observers in
// subscription order. Callbacks run outside the lock so they may call
// back into the context.
func (c *AccountContext) Set(acct *Account) {
	c.mu.Lock()
	c.account = acct

	fns := make([]func(*Account), 0, len(c.order))
	for _, id := range c.order {
		fns = append(fns, c.observers[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(acct)
	}
}
