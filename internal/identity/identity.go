// Package identity is the authentication boundary. It registers accounts,
// checks credentials and issues session tokens; the session only consumes
// the resulting model.Identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/quickassist/internal/model"
)

var (
	ErrInvalidCredentials  = errors.New("invalid mobile number or password")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("an account with this mobile number already exists")
	ErrInvalidRegistration = errors.New("invalid registration")
)

// Professions are the trades a partner can register with.
func Professions() []string {
	return []string{
		"Mechanic", "Electrician", "Plumber", "Doctor", "Nurse", "Priest/Pandit",
		"Driver", "Labourer", "Tutor", "Tour Guide", "Carpenter", "Painter",
	}
}

// Registration is a sign-up request.
type Registration struct {
	FullName   string     `json:"fullName"`
	Mobile     string     `json:"mobile"`
	Password   string     `json:"password"`
	Role       model.Role `json:"role"`
	Profession string     `json:"profession,omitempty"`
}

// Provider authenticates users.
type Provider interface {
	Register(ctx context.Context, r Registration) (model.Identity, error)
	Authenticate(ctx context.Context, mobile, password string) (model.Identity, error)
}

type account struct {
	identity model.Identity
	hash     []byte
}

// Memory keeps accounts for the life of the process. The mobile number is
// the account id.
//
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]account
	cost     int
}

// MemoryOption configures a Memory provider.
type MemoryOption func(*Memory)

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) MemoryOption {
	return func(m *Memory) { m.cost = cost }
}

// NewMemory creates an empty account store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{accounts: make(map[string]account), cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register creates an account. Profession is kept only for partners.
func (m *Memory) Register(ctx context.Context, r Registration) (model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return model.Identity{}, err
	}
	mobile := normalizeMobile(r.Mobile)
	name := strings.TrimSpace(r.FullName)
	switch {
	case name == "":
		return model.Identity{}, fmt.Errorf("%w: full name is required", ErrInvalidRegistration)
	case !validMobile(mobile):
		return model.Identity{}, fmt.Errorf("%w: mobile must be 10 digits", ErrInvalidRegistration)
	case r.Password == "":
		return model.Identity{}, fmt.Errorf("%w: password is required", ErrInvalidRegistration)
	case !r.Role.Valid():
		return model.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRegistration, r.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), m.cost)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	id := model.Identity{
		ID:       mobile,
		FullName: name,
		Mobile:   mobile,
		Role:     r.Role,
	}
	if r.Role == model.RolePartner {
		id.Profession = strings.TrimSpace(r.Profession)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[mobile]; exists {
		return model.Identity{}, ErrAccountExists
	}
	m.accounts[mobile] = account{identity: id, hash: hash}
	return id, nil
}

// Authenticate checks a mobile number and password.
func (m *Memory) Authenticate(ctx context.Context, mobile, password string) (model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return model.Identity{}, err
	}
	m.mu.RLock()
	acc, ok := m.accounts[normalizeMobile(mobile)]
	m.mu.RUnlock()
	if !ok {
		return model.Identity{}, ErrAccountNotFound
	}
	if bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) != nil {
		return model.Identity{}, ErrInvalidCredentials
	}
	return acc.identity, nil
}

// Lookup returns the identity registered under id.
func (m *Memory) Lookup(id string) (model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[normalizeMobile(id)]
	if !ok {
		return model.Identity{}, ErrAccountNotFound
	}
	return acc.identity, nil
}

func normalizeMobile(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, s)
}

func validMobile(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
