package account

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document accepted by the account import command.
type SeedFile struct {
	Accounts []SeedAccount `yaml:"accounts"`
}

// SeedAccount describes one account to import. A zero RoleID is replaced by
// a freshly generated snowflake id.
type SeedAccount struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	Region   string `yaml:"region"`
	RoleID   int64  `yaml:"role_id"`
}

// LoadSeed decodes a SeedFile, rejecting unknown keys.
func LoadSeed(r io.Reader) (SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return SeedFile{}, fmt.Errorf("decoding seed file: %w", err)
	}
	return f, nil
}

// ImportResult reports what an import did.
type ImportResult struct {
	Created []Account
	Skipped []string
}

// Seeder creates accounts from seed data.
type Seeder struct {
	store  *Store
	hasher *Hasher
	ids    *snowflake.Node
}

// NewSeeder returns a Seeder that mints role ids on snowflake node nodeID.
func NewSeeder(store *Store, hasher *Hasher, nodeID int64) (*Seeder, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("creating id generator: %w", err)
	}
	return &Seeder{store: store, hasher: hasher, ids: node}, nil
}

// Import creates every account in f. Accounts that already exist are
// skipped, not overwritten.
func (s *Seeder) Import(ctx context.Context, f SeedFile) (ImportResult, error) {
	var res ImportResult
	for i, sa := range f.Accounts {
		role, err := ParseRole(sa.Role)
		if err != nil {
			return res, fmt.Errorf("account %d: %w", i, err)
		}
		if sa.Email == "" || sa.Password == "" {
			return res, fmt.Errorf("account %d: email and password are required", i)
		}
		hash, err := s.hasher.Hash(sa.Password)
		if err != nil {
			return res, fmt.Errorf("account %d: %w", i, err)
		}
		roleID := sa.RoleID
		if roleID == 0 {
			roleID = s.ids.Generate().Int64()
		}

		a, err := s.store.Create(ctx, Account{
			RoleID:       roleID,
			Role:         role,
			Email:        sa.Email,
			Region:       sa.Region,
			PasswordHash: hash,
		})
		if errors.Is(err, ErrExists) {
			res.Skipped = append(res.Skipped, sa.Email)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("account %d: %w", i, err)
		}
		res.Created = append(res.Created, a)
	}
	return res, nil
}
