package conversations_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/convene/messenger-service/internal/config"
	"github.com/convene/messenger-service/internal/listing"
	"github.com/convene/messenger-service/internal/model"
	memsource "github.com/convene/messenger-service/internal/plugin/membership/memory"
	"github.com/convene/messenger-service/internal/plugin/route/conversations"
	memstore "github.com/convene/messenger-service/internal/plugin/store/memory"
	"github.com/convene/messenger-service/internal/provision"
	"github.com/convene/messenger-service/internal/registry/membership"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/convene/messenger-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routeFixture struct {
	router    *gin.Engine
	store     *memstore.MemoryStore
	source    *memsource.Source
	editionID uuid.UUID
	teamID    uuid.UUID
}

func newRouteFixture(t *testing.T) *routeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.NewMemoryStore()
	source := memsource.NewSource()
	engine := provision.New(store, source)
	view := listing.NewView(store, source)

	cfg := config.DefaultConfig()
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))

	r := gin.New()
	conversations.MountRoutes(r, store, view, engine, auth)

	return &routeFixture{
		router:    r,
		store:     store,
		source:    source,
		editionID: uuid.New(),
		teamID:    uuid.New(),
	}
}

// do issues a request authenticated as userID. Without OIDC configured the
// bearer token is the user ID.
func (f *routeFixture) do(method, path, userID, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	f.router.ServeHTTP(w, req)
	return w
}

func (f *routeFixture) provisionTeam(t *testing.T, users map[string]bool) {
	t.Helper()
	for userID, isLeader := range users {
		f.source.AddAssignment(membership.Assignment{
			EditionID: f.editionID,
			TeamID:    f.teamID,
			UserID:    userID,
			IsLeader:  isLeader,
		})
	}
	engine := provision.New(f.store, f.source)
	_, err := engine.Provision(context.Background(), membership.Scope{EditionID: f.editionID})
	require.NoError(t, err)
}

func TestRoutesRequireAuth(t *testing.T) {
	f := newRouteFixture(t)
	w := f.do(http.MethodGet, "/v1/editions/"+f.editionID.String()+"/conversations", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListOwnConversations(t *testing.T) {
	f := newRouteFixture(t)
	f.provisionTeam(t, map[string]bool{"mia": false, "alex": true})

	w := f.do(http.MethodGet, "/v1/editions/"+f.editionID.String()+"/conversations", "mia", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []registrystore.ConversationSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// Team group plus the leader-private thread.
	assert.Len(t, resp.Data, 2)
}

func TestListEmptyEditionReturnsEmptyArray(t *testing.T) {
	f := newRouteFixture(t)

	w := f.do(http.MethodGet, "/v1/editions/"+uuid.NewString()+"/conversations", "mia", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data": []}`, w.Body.String())
}

func TestListOtherUserRequiresOrganizer(t *testing.T) {
	f := newRouteFixture(t)
	f.provisionTeam(t, map[string]bool{"mia": false, "alex": true})

	path := "/v1/editions/" + f.editionID.String() + "/conversations?userId=mia"

	w := f.do(http.MethodGet, path, "snoop", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	f.source.AddOrganizer(f.editionID, "org", false)
	w = f.do(http.MethodGet, path, "org", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnsureConversations(t *testing.T) {
	f := newRouteFixture(t)
	f.source.AddAssignment(membership.Assignment{
		EditionID: f.editionID, TeamID: f.teamID, UserID: "mia",
	})
	f.source.AddAssignment(membership.Assignment{
		EditionID: f.editionID, TeamID: f.teamID, UserID: "alex", IsLeader: true,
	})

	path := "/v1/editions/" + f.editionID.String() + "/teams/" + f.teamID.String() + "/ensure"
	w := f.do(http.MethodPost, path, "mia", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	conv, err := f.store.FindTeamGroup(context.Background(), f.editionID, f.teamID)
	require.NoError(t, err)
	participants, err := f.store.ActiveParticipants(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestEnsureConversationsUnknownTeam(t *testing.T) {
	f := newRouteFixture(t)

	path := "/v1/editions/" + f.editionID.String() + "/teams/" + uuid.NewString() + "/ensure"
	w := f.do(http.MethodPost, path, "mia", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListParticipants(t *testing.T) {
	f := newRouteFixture(t)
	f.provisionTeam(t, map[string]bool{"mia": false, "alex": true})

	conv, err := f.store.FindTeamGroup(context.Background(), f.editionID, f.teamID)
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/v1/conversations/"+conv.ID.String()+"/participants", "mia", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []registrystore.ParticipantInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	flags := map[string]bool{}
	for _, p := range resp.Data {
		flags[p.UserID] = p.IsLeader
	}
	assert.False(t, flags["mia"])
	assert.True(t, flags["alex"])

	// Non-participants see nothing, not even the participant list.
	w = f.do(http.MethodGet, "/v1/conversations/"+conv.ID.String()+"/participants", "snoop", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPostMessage(t *testing.T) {
	f := newRouteFixture(t)
	f.provisionTeam(t, map[string]bool{"mia": false, "alex": true})

	conv, err := f.store.FindTeamGroup(context.Background(), f.editionID, f.teamID)
	require.NoError(t, err)
	path := "/v1/conversations/" + conv.ID.String() + "/messages"

	w := f.do(http.MethodPost, path, "mia", `{"content":"hello team"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var msg model.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "mia", msg.AuthorUserID)
	assert.Equal(t, "hello team", msg.Content)

	w = f.do(http.MethodPost, path, "mia", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, path, "snoop", `{"content":"let me in"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMarkRead(t *testing.T) {
	f := newRouteFixture(t)
	f.provisionTeam(t, map[string]bool{"mia": false, "alex": true})

	conv, err := f.store.FindTeamGroup(context.Background(), f.editionID, f.teamID)
	require.NoError(t, err)
	path := "/v1/conversations/" + conv.ID.String() + "/read"

	at := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	body, err := json.Marshal(gin.H{"at": at})
	require.NoError(t, err)

	w := f.do(http.MethodPost, path, "mia", string(body))
	require.Equal(t, http.StatusNoContent, w.Code)

	p, err := f.store.GetParticipant(context.Background(), conv.ID, "mia")
	require.NoError(t, err)
	require.NotNil(t, p.LastReadAt)
	assert.True(t, p.LastReadAt.Equal(at))

	// Empty body defaults to now.
	w = f.do(http.MethodPost, path, "mia", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodPost, path, "snoop", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
