// Package testkit holds in-memory fakes shared by package tests.
package testkit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/authsync/internal/domain"
	"github.com/spec-kit/authsync/internal/repository"
)

// IdentityRepository is an in-memory repository.IdentityRepository.
type IdentityRepository struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
}

var _ repository.IdentityRepository = (*IdentityRepository)(nil)

// NewIdentityRepository returns an empty identity store.
func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{accounts: make(map[string]domain.Account)}
}

func (r *IdentityRepository) Create(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return repository.ErrDuplicate
		}
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.Metadata == nil {
		account.Metadata = domain.Metadata{}
	}
	r.accounts[account.ID] = copyAccount(*account)
	return nil
}

func (r *IdentityRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := copyAccount(account)
	return &out, nil
}

func (r *IdentityRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if strings.EqualFold(account.Email, email) {
			out := copyAccount(account)
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *IdentityRepository) MergeMetadata(_ context.Context, id string, fields domain.Metadata) (domain.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	for k, v := range fields {
		account.Metadata[k] = v
	}
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return copyMetadata(account.Metadata), nil
}

func (r *IdentityRepository) MarkEmailConfirmed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	now := time.Now().UTC()
	account.EmailConfirmedAt = &now
	r.accounts[id] = account
	return nil
}

func copyAccount(a domain.Account) domain.Account {
	a.Metadata = copyMetadata(a.Metadata)
	return a
}

func copyMetadata(m domain.Metadata) domain.Metadata {
	out := make(domain.Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ProfileRepository is an in-memory repository.ProfileRepository.
type ProfileRepository struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile

	// CreateErr and GetErr, when set, are returned instead of touching the store.
	CreateErr error
	GetErr    error
}

var _ repository.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository returns an empty profile store.
func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{profiles: make(map[string]domain.Profile)}
}

func (r *ProfileRepository) Create(_ context.Context, profile *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	if _, ok := r.profiles[profile.ID]; ok {
		return repository.ErrDuplicate
	}
	profile.CreatedAt = time.Now().UTC()
	r.profiles[profile.ID] = *profile
	return nil
}

func (r *ProfileRepository) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	profile, ok := r.profiles[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &profile, nil
}

func (r *ProfileRepository) List(_ context.Context, limit, offset int) ([]domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []domain.Profile{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Put stores a profile directly.
func (r *ProfileRepository) Put(profile domain.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.ID] = profile
}

// Count returns the number of stored profiles.
func (r *ProfileRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.profiles)
}

// AdminRepository is an in-memory repository.AdminRepository.
type AdminRepository struct {
	mu     sync.Mutex
	grants []domain.AdminGrant
}

var _ repository.AdminRepository = (*AdminRepository)(nil)

// NewAdminRepository returns a store with no admin grants.
func NewAdminRepository() *AdminRepository {
	return &AdminRepository{}
}

func (r *AdminRepository) Create(_ context.Context, grant *domain.AdminGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.grants {
		if strings.EqualFold(g.Email, grant.Email) {
			return repository.ErrDuplicate
		}
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	// strictly increasing so List order is deterministic
	grant.CreatedAt = time.Now().UTC().Add(time.Duration(len(r.grants)) * time.Millisecond)
	r.grants = append(r.grants, *grant)
	return nil
}

func (r *AdminRepository) GetByID(_ context.Context, id string) (*domain.AdminGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.grants {
		if g.ID == id {
			out := g
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *AdminRepository) GetByEmail(_ context.Context, email string) (*domain.AdminGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.grants {
		if strings.EqualFold(g.Email, email) {
			out := g
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *AdminRepository) UpdatePrivileges(_ context.Context, id string, privileges []domain.Privilege) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.grants {
		if r.grants[i].ID == id {
			r.grants[i].Privileges = append([]domain.Privilege(nil), privileges...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *AdminRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.grants {
		if r.grants[i].ID == id {
			r.grants = append(r.grants[:i], r.grants[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *AdminRepository) List(_ context.Context) ([]domain.AdminGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.AdminGrant(nil), r.grants...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ConfirmationRepository is an in-memory repository.ConfirmationRepository.
type ConfirmationRepository struct {
	mu     sync.Mutex
	tokens map[string]repository.ConfirmationToken
}

var _ repository.ConfirmationRepository = (*ConfirmationRepository)(nil)

// NewConfirmationRepository returns a store with no pending confirmations.
func NewConfirmationRepository() *ConfirmationRepository {
	return &ConfirmationRepository{tokens: make(map[string]repository.ConfirmationToken)}
}

func (r *ConfirmationRepository) Create(_ context.Context, token *repository.ConfirmationToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	token.CreatedAt = time.Now().UTC()
	r.tokens[token.Token] = *token
	return nil
}

func (r *ConfirmationRepository) GetByToken(_ context.Context, tokenStr string) (*repository.ConfirmationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenStr]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &token, nil
}

func (r *ConfirmationRepository) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, token := range r.tokens {
		if token.ID == id {
			now := time.Now().UTC()
			token.UsedAt = &now
			r.tokens[key] = token
			return nil
		}
	}
	return errors.New("confirmation token not found")
}

// Latest returns the most recently created token for identityID.
func (r *ConfirmationRepository) Latest(identityID string) (repository.ConfirmationToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		latest repository.ConfirmationToken
		found  bool
	)
	for _, token := range r.tokens {
		if token.IdentityID == identityID && (!found || token.CreatedAt.After(latest.CreatedAt)) {
			latest, found = token, true
		}
	}
	return latest, found
}
