package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whereabouts-backend/internal/events"
	"whereabouts-backend/internal/middleware"
	"whereabouts-backend/internal/models"
	"whereabouts-backend/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterClient_ThroughApproval(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/whereabouts/client/register",
		body:   `{"button_count": 3, "audio_output": true}`,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"token": null}`, rec.Body.String())

	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/api/v1/whereabouts/client/registration_status/"), location)
	clientID := uuid.MustParse(strings.TrimPrefix(location, "/api/v1/whereabouts/client/registration_status/"))

	registered, ok := env.dispatched.last().(events.ClientRegistered)
	require.True(t, ok)
	assert.Equal(t, clientID, registered.ClientID)

	candidate := env.store.Clients[clientID]
	assert.Equal(t, models.ClientPending, candidate.AuthorityStatus)
	assert.Nil(t, candidate.Token)
	assert.Equal(t, 3, candidate.ButtonCount)

	rec = env.do(t, request{method: http.MethodGet, path: location})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "pending"}`, rec.Body.String())

	rec = env.do(t, request{
		method:  http.MethodPost,
		path:    "/api/v1/admin/whereabouts/clients/" + clientID.String() + "/approve",
		headers: map[string]string{"Authorization": env.adminToken(t, env.ann, services.PermissionAdministrate)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var approved models.Client
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	require.NotNil(t, approved.Token)
	assert.NotEmpty(t, *approved.Token)
	assert.Equal(t, models.ClientApproved, approved.AuthorityStatus)

	approvedEvent, ok := env.dispatched.last().(events.ClientApproved)
	require.True(t, ok)
	require.NotNil(t, approvedEvent.Initiator)
	assert.Equal(t, "Ann", approvedEvent.Initiator.ScreenName)

	rec = env.do(t, request{method: http.MethodGet, path: location})
	assert.JSONEq(t, `{"status": "approved"}`, rec.Body.String())
}

func TestRegisterClient_Rejections(t *testing.T) {
	env := newTestEnv(t)
	const path = "/api/v1/whereabouts/client/register"

	t.Run("missing API token", func(t *testing.T) {
		rec := env.do(t, request{
			method:  http.MethodPost,
			path:    path,
			body:    `{"button_count": 3, "audio_output": true}`,
			headers: map[string]string{"Authorization": ""},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("not JSON", func(t *testing.T) {
		rec := env.do(t, request{
			method:  http.MethodPost,
			path:    path,
			body:    `button_count=3`,
			headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		})
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("missing field", func(t *testing.T) {
		rec := env.do(t, request{method: http.MethodPost, path: path, body: `{"button_count": 3}`})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong type", func(t *testing.T) {
		rec := env.do(t, request{method: http.MethodPost, path: path, body: `{"button_count": "three", "audio_output": true}`})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("registration closed", func(t *testing.T) {
		require.NoError(t, env.registration.SetRegistrationStatus(t.Context(), services.RegistrationClosed))
		rec := env.do(t, request{method: http.MethodPost, path: path, body: `{"button_count": 3, "audio_output": true}`})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	assert.Empty(t, env.store.Clients)
	assert.Zero(t, env.dispatched.count())
}

func TestGetRegistrationStatus(t *testing.T) {
	env := newTestEnv(t)

	deleted := models.Client{ID: uuid.New(), AuthorityStatus: models.ClientDeleted}
	env.store.Clients[deleted.ID] = deleted

	tests := []struct {
		name     string
		clientID string
		wantCode int
		wantBody string
	}{
		{"deleted", deleted.ID.String(), http.StatusOK, `{"status": "rejected"}`},
		{"unknown", uuid.NewString(), http.StatusNotFound, ""},
		{"malformed", "not-a-uuid", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/client/registration_status/" + tt.clientID})
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestSignOnAndOff(t *testing.T) {
	env := newTestEnv(t)
	client, token := env.addApprovedClient(t)
	header := map[string]string{middleware.ClientTokenHeader: token}

	rec := env.do(t, request{method: http.MethodPost, path: "/api/v1/whereabouts/client/sign_on", headers: header})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, env.store.Liveliness[client.ID].SignedOn)
	assert.IsType(t, events.ClientSignedOn{}, env.dispatched.last())

	rec = env.do(t, request{method: http.MethodPost, path: "/api/v1/whereabouts/client/sign_off", headers: header})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, env.store.Liveliness[client.ID].SignedOn)
	assert.IsType(t, events.ClientSignedOff{}, env.dispatched.last())
}

func TestSignOn_InvalidClientToken(t *testing.T) {
	env := newTestEnv(t)

	for name, headers := range map[string]map[string]string{
		"missing": nil,
		"unknown": {middleware.ClientTokenHeader: "nope"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, request{method: http.MethodPost, path: "/api/v1/whereabouts/client/sign_on", headers: headers})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error": "Invalid client token"}`, rec.Body.String())
		})
	}
}

func TestGetClientConfig(t *testing.T) {
	env := newTestEnv(t)
	client, token := env.addApprovedClient(t)
	header := map[string]string{middleware.ClientTokenHeader: token}

	rec := env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/client/config", headers: header})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cfg := models.ClientConfig{ID: uuid.New(), Title: "Entrance", Content: json.RawMessage(`{"volume": 7}`)}
	env.store.Configs[cfg.ID] = cfg
	client.ConfigID = &cfg.ID
	env.store.Clients[client.ID] = client

	rec = env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/client/config", headers: header})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"volume": 7}`, rec.Body.String())
}

func TestGetTag(t *testing.T) {
	env := newTestEnv(t)
	dingo := env.store.AddUser("Dingo")
	tagSound := "tag.ogg"
	env.store.Tags = append(env.store.Tags, models.Tag{
		ID: uuid.New(), Creator: env.ann, Tag: "0004283951", User: dingo, SoundFilename: &tagSound,
	})

	rec := env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/tags/0004283951"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TagResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0004283951", resp.Identifier)
	assert.Equal(t, dingo.ID, resp.User.ID)
	assert.Equal(t, "Dingo", resp.User.ScreenName)
	require.NotNil(t, resp.SoundFilename)
	assert.Equal(t, "tag.ogg", *resp.SoundFilename)
	assert.Equal(t, "https://sounds.example.com/tag.ogg?signed", resp.SoundURL)

	env.store.Sounds[dingo.ID] = models.UserSound{User: dingo, Filename: "dingo.ogg"}

	rec = env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/tags/0004283951"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dingo.ogg", *resp.SoundFilename)
}

func TestGetTag_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.store.Tags = append(env.store.Tags, models.Tag{
		ID: uuid.New(), Tag: "suspended-tag", User: env.ann, Suspended: true,
	})

	for _, identifier := range []string{"unknown", "suspended-tag"} {
		rec := env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/tags/" + identifier})
		assert.Equal(t, http.StatusNotFound, rec.Code, identifier)
		assert.JSONEq(t, `{}`, rec.Body.String())
	}
}

func TestSetStatus_ThenGetStatus(t *testing.T) {
	env := newTestEnv(t)
	client, token := env.addApprovedClient(t)
	dingo := env.store.AddUser("Dingo")
	backstage := env.addLocation(t, env.party, "backstage", "backstage area")

	rec := env.do(t, request{
		method:  http.MethodPost,
		path:    "/api/v1/whereabouts/statuses",
		body:    `{"user_id": "` + dingo.ID.String() + `", "party_id": "acmecon-2014", "whereabouts_name": "backstage"}`,
		headers: map[string]string{middleware.ClientTokenHeader: token},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	status := env.store.Statuses[dingo.ID]
	assert.Equal(t, backstage.ID, status.LocationID)
	require.Len(t, env.store.Updates, 1)
	require.NotNil(t, env.store.Updates[0].SourceAddress)
	assert.Equal(t, "10.0.0.23", env.store.Updates[0].SourceAddress.String())
	assert.True(t, env.store.Liveliness[client.ID].SignedOn)

	event, ok := env.dispatched.last().(events.StatusUpdated)
	require.True(t, ok)
	assert.Equal(t, "backstage area", event.WhereaboutsDescription)
	assert.Equal(t, "acmecon-2014", event.Party.ID)
	assert.Equal(t, "Dingo", event.User.ScreenName)

	rec = env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/statuses/" + dingo.ID.String() + "/acmecon-2014"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Dingo", resp.User.ScreenName)
	assert.Equal(t, backstage.ID, resp.Whereabouts.ID)
	assert.Equal(t, "backstage", resp.Whereabouts.Name)
	assert.Equal(t, "backstage area", resp.Whereabouts.Description)

	setAt, err := time.Parse(time.RFC3339, resp.SetAt)
	require.NoError(t, err)
	assert.True(t, setAt.Equal(status.SetAt))
}

func TestSetStatus_Rejections(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.addApprovedClient(t)
	dingo := env.store.AddUser("Dingo")
	other := env.store.AddParty("othercon", "OtherCon")
	env.addLocation(t, env.party, "backstage", "backstage area")
	env.addLocation(t, other, "lobby", "lobby")

	clientHeader := map[string]string{middleware.ClientTokenHeader: token}
	body := func(userID, partyID, name string) string {
		return `{"user_id": "` + userID + `", "party_id": "` + partyID + `", "whereabouts_name": "` + name + `"}`
	}

	tests := []struct {
		name     string
		req      request
		wantCode int
	}{
		{
			name:     "no client token",
			req:      request{body: body(dingo.ID.String(), "acmecon-2014", "backstage")},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "not JSON",
			req: request{body: "user_id=1", headers: map[string]string{
				middleware.ClientTokenHeader: token, "Content-Type": "text/plain",
			}},
			wantCode: http.StatusUnsupportedMediaType,
		},
		{
			name:     "unknown user",
			req:      request{body: body(uuid.NewString(), "acmecon-2014", "backstage"), headers: clientHeader},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown party",
			req:      request{body: body(dingo.ID.String(), "nocon", "backstage"), headers: clientHeader},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "location of another party",
			req:      request{body: body(dingo.ID.String(), "acmecon-2014", "lobby"), headers: clientHeader},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing whereabouts name",
			req:      request{body: `{"user_id": "` + dingo.ID.String() + `", "party_id": "acmecon-2014"}`, headers: clientHeader},
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.method = http.MethodPost
			tt.req.path = "/api/v1/whereabouts/statuses"
			rec := env.do(t, tt.req)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	assert.Empty(t, env.store.Statuses)
	assert.Empty(t, env.store.Updates)
	assert.Zero(t, env.dispatched.count())
}

func TestSetStatus_TransientFailure(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.addApprovedClient(t)
	dingo := env.store.AddUser("Dingo")
	env.addLocation(t, env.party, "backstage", "backstage area")
	env.store.PersistErr = models.ErrTransientStorage

	rec := env.do(t, request{
		method:  http.MethodPost,
		path:    "/api/v1/whereabouts/statuses",
		body:    `{"user_id": "` + dingo.ID.String() + `", "party_id": "acmecon-2014", "whereabouts_name": "backstage"}`,
		headers: map[string]string{middleware.ClientTokenHeader: token},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Zero(t, env.dispatched.count())
}

func TestGetStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)
	dingo := env.store.AddUser("Dingo")

	rec := env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/statuses/" + dingo.ID.String() + "/acmecon-2014"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/statuses/" + uuid.NewString() + "/acmecon-2014"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error": "Unknown user ID"}`, rec.Body.String())

	rec = env.do(t, request{method: http.MethodGet, path: "/api/v1/whereabouts/statuses/" + dingo.ID.String() + "/nocon"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error": "Unknown party ID"}`, rec.Body.String())
}

func TestSourceAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	r.RemoteAddr = "[::ffff:10.0.0.1]:443"
	require.NotNil(t, sourceAddress(r))
	assert.Equal(t, "10.0.0.1", sourceAddress(r).String())

	r.RemoteAddr = "192.168.1.9"
	assert.Equal(t, "192.168.1.9", sourceAddress(r).String())

	r.RemoteAddr = "pipe"
	assert.Nil(t, sourceAddress(r))
}
