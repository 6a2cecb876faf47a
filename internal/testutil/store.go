// Package testutil provides in-memory stores for service and handler tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"whereabouts-backend/internal/models"

	"github.com/google/uuid"
)

// Store is an in-memory implementation of the stores the services depend
// on, mirroring the constraints of the SQL schema. Locations are served
// through LocationStore.
type Store struct {
	mu sync.Mutex

	Users      map[uuid.UUID]models.User
	Parties    map[string]models.Party
	Locations  map[uuid.UUID]models.Location
	Statuses   map[uuid.UUID]models.Status
	Updates    []models.Update
	Clients    map[uuid.UUID]models.Client
	Liveliness map[uuid.UUID]models.Liveliness
	Configs    map[uuid.UUID]models.ClientConfig
	Tags       []models.Tag
	Sounds     map[uuid.UUID]models.UserSound

	// PersistErr, when set, fails the next status write without storing anything
	PersistErr error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		Users:      make(map[uuid.UUID]models.User),
		Parties:    make(map[string]models.Party),
		Locations:  make(map[uuid.UUID]models.Location),
		Statuses:   make(map[uuid.UUID]models.Status),
		Clients:    make(map[uuid.UUID]models.Client),
		Liveliness: make(map[uuid.UUID]models.Liveliness),
		Configs:    make(map[uuid.UUID]models.ClientConfig),
		Sounds:     make(map[uuid.UUID]models.UserSound),
	}
}

// AddUser registers a user with the screen name and returns it
func (s *Store) AddUser(screenName string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: uuid.New(), ScreenName: screenName}
	s.Users[u.ID] = u
	return u
}

// AddParty registers a party and returns it
func (s *Store) AddParty(id, title string) models.Party {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Party{ID: id, Title: title}
	s.Parties[id] = p
	return p
}

func notFound(what string, key any) error {
	return fmt.Errorf("%s %v: %w", what, key, models.ErrNotFound)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (s *Store) GetParty(ctx context.Context, id string) (*models.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Parties[id]
	if !ok {
		return nil, notFound("party", id)
	}
	return &p, nil
}

// LocationView exposes the store's locations under the location store
// method set, which overlaps with the client store's.
type LocationView struct {
	*Store
}

// LocationStore returns the location view of the store
func (s *Store) LocationStore() LocationView {
	return LocationView{Store: s}
}

func (v LocationView) Create(ctx context.Context, loc *models.Location, position *int) error {
	s := v.Store
	s.mu.Lock()
	defer s.mu.Unlock()

	next := 0
	for _, existing := range s.Locations {
		if existing.Party.ID != loc.Party.ID {
			continue
		}
		if existing.Position >= next {
			next = existing.Position + 1
		}
	}
	if position != nil {
		next = *position
	}

	for _, existing := range s.Locations {
		if existing.Party.ID != loc.Party.ID {
			continue
		}
		if existing.Name == loc.Name || existing.Description == loc.Description || existing.Position == next {
			return fmt.Errorf("whereabouts: %w", models.ErrConflict)
		}
	}

	loc.Position = next
	s.Locations[loc.ID] = *loc
	return nil
}

func (v LocationView) GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	s := v.Store
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.Locations[id]
	if !ok {
		return nil, notFound("whereabouts", id)
	}
	return &loc, nil
}

func (v LocationView) GetByName(ctx context.Context, partyID, name string) (*models.Location, error) {
	s := v.Store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, loc := range s.Locations {
		if loc.Party.ID == partyID && loc.Name == name {
			return &loc, nil
		}
	}
	return nil, notFound("whereabouts", name)
}

func (v LocationView) ListByParty(ctx context.Context, partyID string) ([]*models.Location, error) {
	s := v.Store
	s.mu.Lock()
	defer s.mu.Unlock()
	var locations []*models.Location
	for _, loc := range s.Locations {
		if loc.Party.ID == partyID {
			loc := loc
			locations = append(locations, &loc)
		}
	}
	return locations, nil
}

func (s *Store) Persist(ctx context.Context, status *models.Status, update *models.Update, clientID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PersistErr != nil {
		err := s.PersistErr
		s.PersistErr = nil
		return err
	}
	s.Statuses[status.UserID] = *status
	s.Updates = append(s.Updates, *update)
	if clientID != nil {
		s.Liveliness[*clientID] = models.Liveliness{ClientID: *clientID, SignedOn: true, LatestActivityAt: update.CreatedAt}
	}
	return nil
}

func (s *Store) GetForParty(ctx context.Context, userID uuid.UUID, partyID string) (*models.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.Statuses[userID]
	if !ok || s.Locations[status.LocationID].Party.ID != partyID {
		return nil, notFound("status", userID)
	}
	return &status, nil
}

func (s *Store) ListForParty(ctx context.Context, partyID string) ([]*models.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var statuses []*models.Status
	for _, status := range s.Statuses {
		if s.Locations[status.LocationID].Party.ID == partyID {
			status := status
			statuses = append(statuses, &status)
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].SetAt.After(statuses[j].SetAt) })
	return statuses, nil
}

func (s *Store) ListUpdates(ctx context.Context, userID uuid.UUID) ([]*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updates []*models.Update
	for _, update := range s.Updates {
		if update.UserID == userID {
			update := update
			updates = append(updates, &update)
		}
	}
	return updates, nil
}

func (s *Store) CreateCandidate(ctx context.Context, client *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *client
	c.AuthorityStatus = models.ClientPending
	s.Clients[c.ID] = c
	return nil
}

func (s *Store) Approve(ctx context.Context, clientID uuid.UUID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Clients[clientID]
	if !ok || !c.Pending() {
		return fmt.Errorf("client %s is not pending: %w", clientID, models.ErrInvalidState)
	}
	c.AuthorityStatus = models.ClientApproved
	c.Token = &token
	s.Clients[clientID] = c
	s.Liveliness[clientID] = models.Liveliness{ClientID: clientID, SignedOn: false, LatestActivityAt: c.RegisteredAt}
	return nil
}

func (s *Store) MarkDeleted(ctx context.Context, clientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Clients[clientID]
	if !ok || !c.Approved() {
		return fmt.Errorf("client %s is not approved: %w", clientID, models.ErrInvalidState)
	}
	c.AuthorityStatus = models.ClientDeleted
	c.Token = nil
	s.Clients[clientID] = c
	return nil
}

func (s *Store) DeleteCandidate(ctx context.Context, clientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Clients[clientID]
	if !ok || !c.Pending() {
		return fmt.Errorf("client %s is not pending: %w", clientID, models.ErrInvalidState)
	}
	delete(s.Clients, clientID)
	return nil
}

func (s *Store) UpdateDetails(ctx context.Context, clientID uuid.UUID, location, description *string, configID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Clients[clientID]
	if !ok {
		return notFound("client", clientID)
	}
	c.Location = location
	c.Description = description
	c.ConfigID = configID
	s.Clients[clientID] = c
	return nil
}

func (s *Store) SetLiveliness(ctx context.Context, clientID uuid.UUID, signedOn bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Liveliness[clientID] = models.Liveliness{ClientID: clientID, SignedOn: signedOn, LatestActivityAt: at}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Clients[id]
	if !ok {
		return nil, notFound("client", id)
	}
	return &c, nil
}

func (s *Store) GetByToken(ctx context.Context, token string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Clients {
		if c.Approved() && c.Token != nil && *c.Token == token {
			return &c, nil
		}
	}
	return nil, notFound("client token", "")
}

func (s *Store) ListWithLiveliness(ctx context.Context) ([]*models.ClientWithLiveliness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var clients []*models.ClientWithLiveliness
	for _, c := range s.Clients {
		entry := &models.ClientWithLiveliness{Client: c, LatestActivityAt: c.RegisteredAt}
		if l, ok := s.Liveliness[c.ID]; ok {
			entry.SignedOn = l.SignedOn
			entry.LatestActivityAt = l.LatestActivityAt
		}
		clients = append(clients, entry)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].RegisteredAt.Before(clients[j].RegisteredAt) })
	return clients, nil
}

func (s *Store) CreateConfig(ctx context.Context, cfg *models.ClientConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Configs[cfg.ID] = *cfg
	return nil
}

func (s *Store) GetConfig(ctx context.Context, id uuid.UUID) (*models.ClientConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.Configs[id]
	if !ok {
		return nil, notFound("client config", id)
	}
	return &cfg, nil
}

func (s *Store) ListConfigs(ctx context.Context) ([]*models.ClientConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var configs []*models.ClientConfig
	for _, cfg := range s.Configs {
		cfg := cfg
		configs = append(configs, &cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Title < configs[j].Title })
	return configs, nil
}

func (s *Store) CreateTag(ctx context.Context, tag *models.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Tags {
		if strings.EqualFold(existing.Tag, tag.Tag) {
			return fmt.Errorf("tag %q: %w", tag.Tag, models.ErrConflict)
		}
	}
	s.Tags = append(s.Tags, *tag)
	return nil
}

func (s *Store) GetTagByValue(ctx context.Context, value string) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range s.Tags {
		if strings.EqualFold(tag.Tag, value) {
			return &tag, nil
		}
	}
	return nil, notFound("tag", value)
}

func (s *Store) ListTags(ctx context.Context) ([]*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := make([]*models.Tag, 0, len(s.Tags))
	for _, tag := range s.Tags {
		tag := tag
		tags = append(tags, &tag)
	}
	return tags, nil
}

func (s *Store) CreateUserSound(ctx context.Context, sound *models.UserSound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Sounds[sound.User.ID]; ok {
		return fmt.Errorf("user sound: %w", models.ErrConflict)
	}
	s.Sounds[sound.User.ID] = *sound
	return nil
}

func (s *Store) GetSoundForUser(ctx context.Context, userID uuid.UUID) (*models.UserSound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sound, ok := s.Sounds[userID]
	if !ok {
		return nil, notFound("user sound", userID)
	}
	return &sound, nil
}

func (s *Store) ListUserSounds(ctx context.Context) ([]*models.UserSound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sounds []*models.UserSound
	for _, sound := range s.Sounds {
		sound := sound
		sounds = append(sounds, &sound)
	}
	return sounds, nil
}
