// Package repositorytest provides in-memory repositories for tests.
package repositorytest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/repository"
)

var (
	_ repository.IdentityRepository = (*Identities)(nil)
	_ repository.ChannelRepository  = (*Channels)(nil)
)

type token struct {
	identityID string
	expire     time.Time
}

// Identities is an in-memory repository.IdentityRepository. CreateErr, when
// set, fails every Create.
type Identities struct {
	mu         sync.Mutex
	identities map[string]*domain.Identity
	tokens     map[string]token
	CreateErr  error
}

// NewIdentities returns an empty identity store.
func NewIdentities() *Identities {
	return &Identities{
		identities: map[string]*domain.Identity{},
		tokens:     map[string]token{},
	}
}

func (r *Identities) Create(_ context.Context, identity *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	copied := *identity
	r.identities[identity.ID] = &copied
	return nil
}

func (r *Identities) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *identity
	return &copied, nil
}

func (r *Identities) find(nameOrID string) *domain.Identity {
	for _, identity := range r.identities {
		if identity.ID == nameOrID || identity.Name == nameOrID || identity.EmailAddress == nameOrID {
			return identity
		}
	}
	return nil
}

func (r *Identities) GetByNameOrEmail(_ context.Context, nameOrEmail string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity := r.find(nameOrEmail)
	if identity == nil {
		return nil, pgx.ErrNoRows
	}
	copied := *identity
	return &copied, nil
}

func (r *Identities) ExistsByNameOrEmail(_ context.Context, name, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range r.identities {
		if identity.Name == name || identity.EmailAddress == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *Identities) GetByTokenDigest(_ context.Context, digest string, now time.Time) (*domain.Identity, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[digest]
	if !ok || tok.expire.Before(now) {
		return nil, time.Time{}, pgx.ErrNoRows
	}
	copied := *r.identities[tok.identityID]
	copied.Roles = append([]domain.Role(nil), copied.Roles...)
	return &copied, tok.expire, nil
}

func (r *Identities) AppendToken(_ context.Context, identityID, digest string, expire, loginAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[identityID]
	if !ok {
		return pgx.ErrNoRows
	}
	r.tokens[digest] = token{identityID: identityID, expire: expire}
	identity.LastLogin = loginAt
	return nil
}

func (r *Identities) TokenDigests(_ context.Context, identityID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for digest, tok := range r.tokens {
		if tok.identityID == identityID {
			out = append(out, digest)
		}
	}
	return out, nil
}

func (r *Identities) TouchLastAccess(_ context.Context, identityID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identity, ok := r.identities[identityID]; ok {
		identity.LastAccess = at
	}
	return nil
}

func (r *Identities) AddRole(_ context.Context, idOrName string, role domain.Role) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity := r.find(idOrName)
	if identity == nil {
		return nil, pgx.ErrNoRows
	}
	if !identity.HasRole(role) {
		identity.Roles = append(identity.Roles, role)
	}
	copied := *identity
	copied.Roles = append([]domain.Role(nil), identity.Roles...)
	return &copied, nil
}

// Channels is an in-memory repository.ChannelRepository. Err, when set, fails
// reads and creates.
type Channels struct {
	mu            sync.Mutex
	channels      map[string]*domain.Channel
	lastPublish   map[string]time.Time
	lastSubscribe map[string]time.Time
	Err           error
}

// NewChannels returns a channel store seeded with channels.
func NewChannels(channels ...domain.Channel) *Channels {
	r := &Channels{
		channels:      map[string]*domain.Channel{},
		lastPublish:   map[string]time.Time{},
		lastSubscribe: map[string]time.Time{},
	}
	for i := range channels {
		ch := channels[i]
		r.channels[ch.ID] = &ch
	}
	return r
}

func (r *Channels) Create(_ context.Context, channel *domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	copied := *channel
	r.channels[channel.ID] = &copied
	return nil
}

func (r *Channels) GetByID(_ context.Context, id string) (*domain.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	ch, ok := r.channels[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *ch
	return &copied, nil
}

func (r *Channels) ListPublic(_ context.Context) ([]domain.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []domain.Channel
	for _, ch := range r.channels {
		if ch.Public {
			out = append(out, *ch)
		}
	}
	return out, nil
}

func (r *Channels) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.channels, id)
	return nil
}

func (r *Channels) TouchLastPublish(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; !ok {
		return errors.New("unknown channel")
	}
	r.lastPublish[id] = at
	return nil
}

func (r *Channels) TouchLastSubscribe(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; !ok {
		return errors.New("unknown channel")
	}
	r.lastSubscribe[id] = at
	return nil
}

// Published reports whether the channel's last publish time was touched.
func (r *Channels) Published(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lastPublish[id]
	return ok
}

// Subscribed reports whether the channel's last subscribe time was touched.
func (r *Channels) Subscribed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lastSubscribe[id]
	return ok
}
