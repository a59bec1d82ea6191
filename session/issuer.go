package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ftmatch/authgate/account"
	"github.com/ftmatch/authgate/internal/util"
	"github.com/ftmatch/authgate/internal/uuid"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 7 * 24 * time.Hour

	tokenIssuer   = "authgate"
	minSigningKey = 32
)

type claims struct {
	Role   account.Role `json:"role"`
	Region string       `json:"region"`
	jwt.RegisteredClaims
}

// Issuer mints HS256 bearer tokens and tracks them in a Store.
type Issuer struct {
	store         Store
	key           *memguard.Enclave
	ttl           time.Duration
	defaultRegion string
	now           func() time.Time
}

// IssuerOption customises an Issuer.
type IssuerOption func(*issuerConfig)

type issuerConfig struct {
	key           []byte
	ttl           time.Duration
	defaultRegion string
	now           func() time.Time
}

// WithSigningKey fixes the HMAC key so tokens survive restarts. The key
// must be at least 32 bytes.
func WithSigningKey(key []byte) IssuerOption {
	return func(c *issuerConfig) { c.key = util.CopyBytes(key) }
}

// WithTTL sets the token lifetime.
func WithTTL(d time.Duration) IssuerOption {
	return func(c *issuerConfig) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithDefaultRegion sets the region reported for accounts without one.
func WithDefaultRegion(region string) IssuerOption {
	return func(c *issuerConfig) { c.defaultRegion = region }
}

// WithIssuerClock overrides the time source.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(c *issuerConfig) { c.now = now }
}

// NewIssuer returns an Issuer backed by store. Without WithSigningKey a
// random key is generated and tokens die with the process.
func NewIssuer(store Store, opts ...IssuerOption) (*Issuer, error) {
	cfg := issuerConfig{ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.key == nil {
		k, err := util.RandomBytes(minSigningKey)
		if err != nil {
			return nil, err
		}
		cfg.key = k
	}
	if len(cfg.key) < minSigningKey {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", minSigningKey, len(cfg.key))
	}

	return &Issuer{
		store:         store,
		key:           memguard.NewEnclave(cfg.key),
		ttl:           cfg.ttl,
		defaultRegion: cfg.defaultRegion,
		now:           cfg.now,
	}, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue creates and stores an online session for id.
func (i *Issuer) Issue(ctx context.Context, id account.Identity, currentRegion string) (Session, error) {
	now := i.now()
	region := id.Region
	if region == "" {
		region = currentRegion
	}
	if region == "" {
		region = i.defaultRegion
	}

	tokenID := uuid.New()
	c := claims{
		Role:   id.Role,
		Region: region,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(id.RoleID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        tokenID,
		},
	}

	token, err := i.sign(c)
	if err != nil {
		return Session{}, err
	}

	s := Session{
		Token:         token,
		Email:         id.Email,
		Role:          id.Role,
		RoleID:        id.RoleID,
		Region:        region,
		CurrentRegion: currentRegion,
		SocketID:      uuid.New(),
		Online:        true,
		CreatedAt:     now.Unix(),
		TokenID:       tokenID,
		ExpiresAt:     c.ExpiresAt.Time,
	}
	if err := i.store.Put(ctx, tokenID, s); err != nil {
		return Session{}, fmt.Errorf("storing session: %w", err)
	}
	return s, nil
}

// Resolve verifies token and returns its live session. Any failure other
// than a store fault yields ErrInvalidToken.
func (i *Issuer) Resolve(ctx context.Context, token string) (Session, error) {
	c, err := i.parse(token)
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	roleID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return Session{}, ErrInvalidToken
	}

	s, err := i.store.Get(ctx, c.ID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}
	if !s.Online || s.RoleID != roleID {
		return Session{}, ErrInvalidToken
	}
	s.Token = token
	return s, nil
}

// Revoke deletes the session. Later Resolve calls fail. Revoking an unknown
// session is not an error.
func (i *Issuer) Revoke(ctx context.Context, tokenID string) error {
	if err := i.store.Delete(ctx, tokenID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (i *Issuer) sign(c claims) (string, error) {
	buf, err := i.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening signing key: %w", err)
	}
	defer buf.Destroy()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

func (i *Issuer) parse(token string) (*claims, error) {
	buf, err := i.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening signing key: %w", err)
	}
	defer buf.Destroy()

	var c claims
	_, err = jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return buf.Bytes(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, errors.New("token has no id")
	}
	return &c, nil
}
