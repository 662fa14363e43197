package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/markbates/goth"
	"golang.org/x/crypto/bcrypt"
)

const uniqueViolation = "23505"

// minPasswordLength matches the upstream provider's weak-password rule.
const minPasswordLength = 6

// DB is the subset of pgxpool.Pool the provider needs; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Provider = (*LocalProvider)(nil)

// LocalProvider keeps password and federated accounts in Postgres and the
// live auth state in process.
type LocalProvider struct {
	authState
	db     DB
	logger *slog.Logger
}

func NewLocalProvider(db DB, logger *slog.Logger) *LocalProvider {
	return &LocalProvider{db: db, logger: logger}
}

func (p *LocalProvider) SignUpWithPassword(ctx context.Context, email, password string) (*AuthUser, error) {
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

	var id string
	err = p.db.QueryRow(ctx,
		`INSERT INTO accounts (email, password_hash, provider) VALUES ($1, $2, 'password') RETURNING id`,
		email, string(hash)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, &AuthError{Code: CodeEmailAlreadyInUse, Message: "email already in use", Err: err}
		}
		p.logger.ErrorContext(ctx, "Account insert failed", slog.Any("error", err))
		return nil, &AuthError{Code: CodeNetwork, Message: "identity provider unavailable", Err: err}
	}

	user := &AuthUser{ID: id, Email: email}
	p.setCurrent(user)
	return user, nil
}

func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (*AuthUser, error) {
	var (
		id           string
		passwordHash *string
		displayName  string
		avatarURL    string
	)
	err := p.db.QueryRow(ctx,
		`SELECT id, password_hash, COALESCE(display_name, ''), COALESCE(avatar_url, '')
		 FROM accounts WHERE email = $1`,
		email).Scan(&id, &passwordHash, &displayName, &avatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidCredentials()
		}
		p.logger.ErrorContext(ctx, "Account lookup failed", slog.Any("error", err))
		return nil, &AuthError{Code: CodeNetwork, Message: "identity provider unavailable", Err: err}
	}

	// Federated-only accounts carry no password hash.
	if passwordHash == nil {
		return nil, invalidCredentials()
	}
	if bcrypt.CompareHashAndPassword([]byte(*passwordHash), []byte(password)) != nil {
		return nil, invalidCredentials()
	}

	user := &AuthUser{ID: id, Email: email, DisplayName: displayName, AvatarURL: avatarURL}
	p.setCurrent(user)
	return user, nil
}

func (p *LocalProvider) GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*AuthUser, error) {
	user, err := p.lookupByEmail(ctx, providerUser.Email)
	if err == nil {
		p.setCurrent(user)
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		p.logger.ErrorContext(ctx, "Federated account lookup failed", slog.Any("error", err))
		return nil, &AuthError{Code: CodeNetwork, Message: "identity provider unavailable", Err: err}
	}

	var id string
	err = p.db.QueryRow(ctx,
		`INSERT INTO accounts (email, provider, display_name, avatar_url) VALUES ($1, $2, $3, $4) RETURNING id`,
		providerUser.Email, provider, providerUser.Name, providerUser.AvatarURL).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Lost a first-login race; the account now exists.
			user, err = p.lookupByEmail(ctx, providerUser.Email)
			if err == nil {
				p.setCurrent(user)
				return user, nil
			}
		}
		p.logger.ErrorContext(ctx, "Federated account insert failed", slog.Any("error", err))
		return nil, &AuthError{Code: CodeNetwork, Message: "identity provider unavailable", Err: err}
	}

	user = &AuthUser{ID: id, Email: providerUser.Email, DisplayName: providerUser.Name, AvatarURL: providerUser.AvatarURL}
	p.setCurrent(user)
	return user, nil
}

func (p *LocalProvider) lookupByEmail(ctx context.Context, email string) (*AuthUser, error) {
	var user AuthUser
	err := p.db.QueryRow(ctx,
		`SELECT id, email, COALESCE(display_name, ''), COALESCE(avatar_url, '')
		 FROM accounts WHERE email = $1`,
		email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.AvatarURL)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *LocalProvider) SignOut(ctx context.Context) error {
	p.setCurrent(nil)
	return nil
}

func (p *LocalProvider) OnAuthStateChange(cb func(*AuthUser)) func() {
	return p.register(cb)
}
