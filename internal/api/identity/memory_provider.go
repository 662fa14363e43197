package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/markbates/goth"
	"golang.org/x/crypto/bcrypt"
)

var _ Provider = (*MemoryProvider)(nil)

// MemoryProvider keeps accounts in process memory. It backs the "memory"
// store mode and tests; semantics match LocalProvider.
type MemoryProvider struct {
	authState

	accountsMu sync.Mutex
	accounts   map[string]memoryAccount // keyed by email
}

type memoryAccount struct {
	id           string
	passwordHash []byte
	displayName  string
	avatarURL    string
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{accounts: make(map[string]memoryAccount)}
}

func (p *MemoryProvider) SignUpWithPassword(ctx context.Context, email, password string) (*AuthUser, error) {
	if len(password) < minPasswordLength {
		return nil, &AuthError{
			Code:    CodeWeakPassword,
			Message: fmt.Sprintf("password should be at least %d characters", minPasswordLength),
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, &AuthError{Code: CodeNetwork, Message: "failed to process password", Err: err}
	}

	p.accountsMu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.accountsMu.Unlock()
		return nil, &AuthError{Code: CodeEmailAlreadyInUse, Message: "email already in use"}
	}
	account := memoryAccount{id: uuid.NewString(), passwordHash: hash}
	p.accounts[email] = account
	p.accountsMu.Unlock()

	user := &AuthUser{ID: account.id, Email: email}
	p.setCurrent(user)
	return user, nil
}

func (p *MemoryProvider) SignInWithPassword(ctx context.Context, email, password string) (*AuthUser, error) {
	p.accountsMu.Lock()
	account, ok := p.accounts[email]
	p.accountsMu.Unlock()

	if !ok || account.passwordHash == nil {
		return nil, invalidCredentials()
	}
	if bcrypt.CompareHashAndPassword(account.passwordHash, []byte(password)) != nil {
		return nil, invalidCredentials()
	}

	user := &AuthUser{ID: account.id, Email: email, DisplayName: account.displayName, AvatarURL: account.avatarURL}
	p.setCurrent(user)
	return user, nil
}

func (p *MemoryProvider) GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*AuthUser, error) {
	p.accountsMu.Lock()
	account, ok := p.accounts[providerUser.Email]
	if !ok {
		account = memoryAccount{
			id:          uuid.NewString(),
			displayName: providerUser.Name,
			avatarURL:   providerUser.AvatarURL,
		}
		p.accounts[providerUser.Email] = account
	}
	p.accountsMu.Unlock()

	user := &AuthUser{
		ID:          account.id,
		Email:       providerUser.Email,
		DisplayName: account.displayName,
		AvatarURL:   account.avatarURL,
	}
	p.setCurrent(user)
	return user, nil
}

func (p *MemoryProvider) SignOut(ctx context.Context) error {
	p.setCurrent(nil)
	return nil
}

func (p *MemoryProvider) OnAuthStateChange(cb func(*AuthUser)) func() {
	return p.register(cb)
}
