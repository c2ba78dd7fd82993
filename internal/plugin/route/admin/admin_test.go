package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/convene/messenger-service/internal/config"
	memsource "github.com/convene/messenger-service/internal/plugin/membership/memory"
	"github.com/convene/messenger-service/internal/plugin/route/admin"
	memstore "github.com/convene/messenger-service/internal/plugin/store/memory"
	"github.com/convene/messenger-service/internal/provision"
	"github.com/convene/messenger-service/internal/registry/membership"
	"github.com/convene/messenger-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adminFixture struct {
	router *gin.Engine
	store  *memstore.MemoryStore
	source *memsource.Source
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.NewMemoryStore()
	source := memsource.NewSource()
	engine := provision.New(store, source)

	cfg := config.DefaultConfig()
	cfg.AdminUsers = "root"
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))

	r := gin.New()
	admin.MountRoutes(r, engine, auth)
	return &adminFixture{router: r, store: store, source: source}
}

func (f *adminFixture) post(userID, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/provision", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+userID)
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	return w
}

func TestProvisionRequiresAdmin(t *testing.T) {
	f := newAdminFixture(t)
	editionID := uuid.New()

	w := f.post("mia", `{"editionId":"`+editionID.String()+`"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProvisionBackfill(t *testing.T) {
	f := newAdminFixture(t)
	editionID := uuid.New()
	teamID := uuid.New()
	f.source.AddAssignment(membership.Assignment{
		EditionID: editionID, TeamID: teamID, UserID: "mia",
	})
	f.source.AddAssignment(membership.Assignment{
		EditionID: editionID, TeamID: teamID, UserID: "alex", IsLeader: true,
	})

	w := f.post("root", `{"editionId":"`+editionID.String()+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res provision.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.TeamsProcessed)
	assert.Zero(t, res.TeamsFailed)

	conv, err := f.store.FindTeamGroup(context.Background(), editionID, teamID)
	require.NoError(t, err)
	participants, err := f.store.ActiveParticipants(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestProvisionValidatesBody(t *testing.T) {
	f := newAdminFixture(t)

	w := f.post("root", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
