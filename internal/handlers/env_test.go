package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"whereabouts-backend/internal/events"
	"whereabouts-backend/internal/middleware"
	"whereabouts-backend/internal/models"
	"whereabouts-backend/internal/services"
	"whereabouts-backend/internal/testutil"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	apiToken  = "machine-api-token"
	jwtSecret = "test-secret"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) last() events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.events) == 0 {
		return nil
	}
	return d.events[len(d.events)-1]
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type fakeSounds struct{}

func (fakeSounds) SoundURL(ctx context.Context, filename string) (string, error) {
	return "https://sounds.example.com/" + filename + "?signed", nil
}

type testEnv struct {
	store        *testutil.Store
	router       http.Handler
	dispatched   *recordingDispatcher
	auth         *services.AuthService
	registration *services.MemoryRegistrationPolicy
	party        models.Party
	ann          models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := testutil.NewStore()
	dispatched := &recordingDispatcher{}
	auth := services.NewAuthService(jwtSecret)
	registration := services.NewMemoryRegistrationPolicy(services.RegistrationOpen)

	users := services.NewUserService(store)
	locations := services.NewLocationService(store.LocationStore())
	statuses := services.NewStatusService(store)
	clients := services.NewClientService(store)
	tags := services.NewTagService(store)

	api := NewAPIHandler(APIHandlerDeps{
		Users:        users,
		Locations:    locations,
		Statuses:     statuses,
		Clients:      clients,
		Tags:         tags,
		Registration: registration,
		Sounds:       fakeSounds{},
		Dispatcher:   dispatched,
	})
	admin := NewAdminHandler(users, locations, statuses, clients, tags, registration, dispatched)

	r := chi.NewRouter()
	r.Route("/api/v1/whereabouts", func(r chi.Router) {
		r.Use(middleware.APITokenMiddleware([]string{apiToken}))
		api.Routes(r)
	})
	r.Route("/api/v1/admin/whereabouts", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(auth))
		admin.Routes(r)
	})

	return &testEnv{
		store:        store,
		router:       r,
		dispatched:   dispatched,
		auth:         auth,
		registration: registration,
		party:        store.AddParty("acmecon-2014", "ACMECon 2014"),
		ann:          store.AddUser("Ann"),
	}
}

type request struct {
	method  string
	path    string
	body    string
	headers map[string]string
}

// do sends a request to the machine API with the API token unless an
// Authorization header is given
func (e *testEnv) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if req.body != "" {
		body = strings.NewReader(req.body)
	}
	r := httptest.NewRequest(req.method, req.path, body)
	r.RemoteAddr = "10.0.0.23:50123"
	if req.body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Authorization", "Bearer "+apiToken)
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, r)
	return rec
}

func (e *testEnv) adminToken(t *testing.T, user models.User, permissions ...string) string {
	t.Helper()
	token, err := e.auth.GenerateJWT(user.ID, permissions, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (e *testEnv) addApprovedClient(t *testing.T) (models.Client, string) {
	t.Helper()
	token := "client-token-" + uuid.NewString()
	client := models.Client{
		ID:              uuid.New(),
		RegisteredAt:    time.Date(2014, 8, 22, 9, 0, 0, 0, time.UTC),
		ButtonCount:     3,
		AudioOutput:     true,
		AuthorityStatus: models.ClientApproved,
		Token:           &token,
	}
	e.store.Clients[client.ID] = client
	return client, token
}

func (e *testEnv) addLocation(t *testing.T, party models.Party, name, description string) models.Location {
	t.Helper()
	loc := models.Location{
		ID:          uuid.New(),
		Party:       party,
		Name:        name,
		Description: description,
		Position:    len(e.store.Locations),
	}
	e.store.Locations[loc.ID] = loc
	return loc
}
