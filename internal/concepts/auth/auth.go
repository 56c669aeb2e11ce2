// Package auth implements the UserAuthentication concept: usernames mapped
// to bcrypt password hashes and opaque user identifiers.
package auth

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/choreo/internal/concept"
	"github.com/roach88/choreo/internal/ir"
)

// Name is the concept name used in action references.
const Name = "UserAuthentication"

const invalidCredentials = "Invalid username or password."

type account struct {
	user string
	hash []byte
}

// Concept is the UserAuthentication concept.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Concept struct {
	concept.Dispatch

	ids  concept.IDGenerator
	cost int

	mu       sync.RWMutex
	accounts map[string]account
}

// Option configures the concept.
type Option func(*Concept)

// WithIDs sets the user identifier generator. Default: random UUIDs.
func WithIDs(g concept.IDGenerator) Option {
	return func(c *Concept) { c.ids = g }
}

// WithCost sets the bcrypt cost. Values outside bcrypt's range fall back to
// bcrypt.DefaultCost.
func WithCost(cost int) Option {
	return func(c *Concept) { c.cost = cost }
}

// New creates an empty UserAuthentication concept.
func New(opts ...Option) *Concept {
	c := &Concept{
		Dispatch: concept.NewDispatch(Name),
		ids:      concept.UUIDs{},
		cost:     bcrypt.DefaultCost,
		accounts: make(map[string]account),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cost < bcrypt.MinCost || c.cost > bcrypt.MaxCost {
		c.cost = bcrypt.DefaultCost
	}

	creds := ir.Args("username", "password")
	c.HandleAction(ir.Action("register", creds, map[string]string{"user": "string"}), c.register)
	c.HandleAction(ir.Action("authenticate", creds, map[string]string{"user": "string"}), c.authenticate)
	c.HandleAction(ir.Action("deleteUser", creds, map[string]string{"user": "string"}), c.deleteUser)
	c.HandleQuery(ir.Query("_authenticate", creds, map[string]string{"user": "string"}), c.queryAuthenticate)
	c.HandleQuery(ir.Query("_userExists", ir.Args("username"), map[string]string{"exists": "bool"}), c.userExists)
	return c
}

func credentials(args ir.IRObject) (username, password string) {
	username, _ = args.String("username")
	password, _ = args.String("password")
	return username, password
}

func (c *Concept) register(_ context.Context, args ir.IRObject) ir.IRObject {
	username, password := credentials(args)
	if username == "" || password == "" {
		return ir.ErrorRecord("Username and password must not be empty.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return ir.ErrorRecordf("Could not register user: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.accounts[username]; exists {
		return ir.ErrorRecordf("Username '%s' already exists.", username)
	}
	acct := account{user: c.ids.NewID(), hash: hash}
	c.accounts[username] = acct
	return ir.Obj(ir.O("user", ir.IRString(acct.user)))
}

// check returns the account for valid credentials.
func (c *Concept) check(username, password string) (account, bool) {
	if username == "" || password == "" {
		return account{}, false
	}
	c.mu.RLock()
	acct, ok := c.accounts[username]
	c.mu.RUnlock()
	if !ok {
		return account{}, false
	}
	if bcrypt.CompareHashAndPassword(acct.hash, []byte(password)) != nil {
		return account{}, false
	}
	return acct, true
}

func (c *Concept) authenticate(_ context.Context, args ir.IRObject) ir.IRObject {
	acct, ok := c.check(credentials(args))
	if !ok {
		return ir.ErrorRecord(invalidCredentials)
	}
	return ir.Obj(ir.O("user", ir.IRString(acct.user)))
}

func (c *Concept) deleteUser(_ context.Context, args ir.IRObject) ir.IRObject {
	username, password := credentials(args)
	acct, ok := c.check(username, password)
	if !ok {
		return ir.ErrorRecord(invalidCredentials)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, exists := c.accounts[username]; !exists || cur.user != acct.user {
		return ir.ErrorRecord(invalidCredentials)
	}
	delete(c.accounts, username)
	return ir.Obj(ir.O("user", ir.IRString(acct.user)))
}

func (c *Concept) queryAuthenticate(ctx context.Context, args ir.IRObject) []ir.IRObject {
	return []ir.IRObject{c.authenticate(ctx, args)}
}

func (c *Concept) userExists(_ context.Context, args ir.IRObject) []ir.IRObject {
	username, _ := args.String("username")
	c.mu.RLock()
	_, ok := c.accounts[username]
	c.mu.RUnlock()
	return []ir.IRObject{ir.Obj(ir.O("exists", ir.IRBool(ok)))}
}
