package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whereabouts-backend/internal/dispatch"
	"whereabouts-backend/internal/handlers"
	"whereabouts-backend/internal/metrics"
	"whereabouts-backend/internal/services"
	"whereabouts-backend/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func testRouter(t *testing.T) (http.Handler, *services.AuthService) {
	t.Helper()

	store := testutil.NewStore()
	store.AddParty("acmecon-2014", "ACMECon 2014")

	m, err := metrics.New()
	require.NoError(t, err)

	auth := services.NewAuthService("cmd-secret")
	registration := services.NewMemoryRegistrationPolicy(services.RegistrationClosed)
	hub := dispatch.NewHub(m)
	fanout := dispatch.NewFanout(m, dispatch.LogSink{}, hub)
	t.Cleanup(fanout.Close)

	users := services.NewUserService(store)
	locations := services.NewLocationService(store.LocationStore())
	statuses := services.NewStatusService(store)
	clients := services.NewClientService(store)
	tags := services.NewTagService(store)

	router := newRouter(routerDeps{
		apiTokens: []string{"checkpoint"},
		auth:      auth,
		metrics:   m,
		api: handlers.NewAPIHandler(handlers.APIHandlerDeps{
			Users:        users,
			Locations:    locations,
			Statuses:     statuses,
			Clients:      clients,
			Tags:         tags,
			Registration: registration,
			Dispatcher:   fanout,
			Metrics:      m,
		}),
		admin:  handlers.NewAdminHandler(users, locations, statuses, clients, tags, registration, fanout),
		live:   handlers.NewLiveHandler(hub, auth),
		health: handlers.NewHealthHandler(stubPinger{}),
	})
	return router, auth
}

func TestRouter_MountsSurfaces(t *testing.T) {
	router, auth := testRouter(t)
	token, err := auth.GenerateJWT(uuid.New(), []string{services.PermissionView}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"machine api without token", http.MethodGet, "/api/v1/whereabouts/tags/abc", "", http.StatusUnauthorized},
		{"machine api unknown tag", http.MethodGet, "/api/v1/whereabouts/tags/abc", "Bearer checkpoint", http.StatusNotFound},
		{"admin without token", http.MethodGet, "/api/v1/admin/whereabouts/clients", "", http.StatusUnauthorized},
		{"admin view", http.MethodGet, "/api/v1/admin/whereabouts/clients", "Bearer " + token, http.StatusOK},
		{"admin view locations", http.MethodGet, "/api/v1/admin/whereabouts/parties/acmecon-2014/locations", "Bearer " + token, http.StatusOK},
		{"live without token", http.MethodGet, "/api/v1/admin/whereabouts/live", "", http.StatusUnauthorized},
		{"preflight", http.MethodOptions, "/api/v1/whereabouts/statuses", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRouter_HealthUnavailable(t *testing.T) {
	router := newRouter(routerDeps{
		api:    handlers.NewAPIHandler(handlers.APIHandlerDeps{}),
		admin:  handlers.NewAdminHandler(nil, nil, nil, nil, nil, nil, nil),
		live:   handlers.NewLiveHandler(dispatch.NewHub(nil), services.NewAuthService("x")),
		health: handlers.NewHealthHandler(stubPinger{err: errors.New("connection refused")}),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// metrics disabled
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Whereabouts-Client-Token")
}

func TestIssueToken(t *testing.T) {
	auth := services.NewAuthService("cmd-secret")
	userID := uuid.New()

	token, err := issueToken(auth, userID.String(), []string{services.PermissionAdministrate}, time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.True(t, claims.Has(services.PermissionView))

	_, err = issueToken(auth, "not-a-uuid", nil, time.Hour)
	assert.ErrorContains(t, err, "invalid user id")

	_, err = issueToken(auth, userID.String(), []string{"whereabouts.everything"}, time.Hour)
	assert.ErrorContains(t, err, "unknown permission")
}

func TestRootCommand(t *testing.T) {
	root := RootCommand()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["token"])
	assert.NotNil(t, root.Flags().Lookup("migrate"))

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "config.yaml", flag.DefValue)
}

func TestRootCommand_MissingConfig(t *testing.T) {
	root := RootCommand()
	root.SetArgs([]string{"token", "--config", "/nonexistent/config.yaml", "--user-id", uuid.NewString()})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestSetupLogger(t *testing.T) {
	defer func(l zerolog.Logger, lvl zerolog.Level) {
		log.Logger = l
		zerolog.SetGlobalLevel(lvl)
	}(log.Logger, zerolog.GlobalLevel())

	var buf bytes.Buffer
	setupLogger("warn", "json", &buf)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("dropped")
	log.Warn().Str("party", "acmecon-2014").Msg("kept")
	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"party":"acmecon-2014"`)

	setupLogger("bogus", "console", &buf)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
