package credentials

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// PasswordComparer checks a password against a stored hash.
type PasswordComparer interface {
	Compare(hash, password string) error
}

// BcryptComparer compares and produces bcrypt hashes.
type BcryptComparer struct {
	// Cost is used by Hash; zero means bcrypt.DefaultCost.
	Cost int
}

func (BcryptComparer) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Hash returns the bcrypt hash of password.
func (b BcryptComparer) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// LocalProvider authenticates against the service's own user table.
type LocalProvider struct {
	users    auth.UserDirectory
	comparer PasswordComparer

	dummyOnce sync.Once
	dummyHash string
}

// NewLocalProvider returns a provider over users. A nil comparer means
// [BcryptComparer].
func NewLocalProvider(users auth.UserDirectory, comparer PasswordComparer) *LocalProvider {
	if comparer == nil {
		comparer = BcryptComparer{}
	}
	return &LocalProvider{users: users, comparer: comparer}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Supports(kind Kind) bool { return kind == KindPassword }

func (p *LocalProvider) Authenticate(ctx context.Context, cred Credential) (*auth.Principal, error) {
	if err := requirePassword(cred); err != nil {
		return nil, err
	}

	user, err := p.users.UserByUsername(ctx, cred.Username)
	if err != nil {
		if sserr.IsNotFound(err) {
			// Same work as a real comparison so response time does not
			// reveal whether the username exists.
			_ = p.comparer.Compare(p.dummy(), cred.Password.Value())
			return nil, fmt.Errorf("%w: unknown user", errInvalid)
		}
		return nil, err
	}

	if err := p.comparer.Compare(user.PasswordHash, cred.Password.Value()); err != nil {
		return nil, fmt.Errorf("%w: password mismatch", errInvalid)
	}
	if !user.Enabled {
		return nil, fmt.Errorf("%w: user disabled", errInvalid)
	}
	return user.Principal(), nil
}

func (p *LocalProvider) dummy() string {
	p.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("iam-timing-equaliser"), bcrypt.DefaultCost)
		if err == nil {
			p.dummyHash = string(h)
		}
	})
	return p.dummyHash
}
