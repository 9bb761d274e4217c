package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/services/group"
	"github.com/knowledgehub/knowledge-hub/services/policy"
)

type groupFixture struct {
	handler *GroupHandler
	groups  *memGroupRepo
	users   *memUserRepo
	audit   *capturingAudit
}

func newGroupFixture(t *testing.T, users *memUserRepo, groups *memGroupRepo) *groupFixture {
	t.Helper()
	logger := zap.NewNop()
	svc := group.NewService(groups, passthroughTxm{}, nopCache{}, logger)
	cache := policy.NewMembershipCache(16, time.Minute)
	engine := policy.NewEngine(groups, nopAudit{}, cache, policy.Config{}, logger)
	audit := &capturingAudit{}
	return &groupFixture{
		handler: NewGroupHandler(svc, users, engine, audit, logger),
		groups:  groups,
		users:   users,
		audit:   audit,
	}
}

func adminUser() *models.User {
	return &models.User{ID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin}
}

func managerUser(department string) *models.User {
	return &models.User{
		ID:         "mgr-1",
		Email:      "manager@example.com",
		Role:       models.RoleDepartmentManager,
		Department: strPtr(department),
	}
}

func TestGroupHandleCreateAsAdmin(t *testing.T) {
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo())

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/groups",
		strings.NewReader(`{"name":"research","description":"research staff"}`)), adminUser())
	rec := httptest.NewRecorder()

	f.handler.HandleCreate(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Data models.Group `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "research", body.Data.Name)
	assert.Equal(t, "admin-1", body.Data.OwnerID)
	assert.Nil(t, body.Data.Department)
	assert.Equal(t, []models.AuditAction{models.AuditActionGroupCreated}, f.audit.actions())
}

func TestGroupHandleCreateAsDepartmentManager(t *testing.T) {
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo())

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/groups",
		strings.NewReader(`{"name":"eng-oncall"}`)), managerUser("engineering"))
	rec := httptest.NewRecorder()

	f.handler.HandleCreate(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Data models.Group `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Data.Department)
	assert.Equal(t, "engineering", *body.Data.Department)
	require.NotNil(t, body.Data.ManagedBy)
	assert.Equal(t, "mgr-1", *body.Data.ManagedBy)
}

func TestGroupHandleCreateManagerWithoutDepartment(t *testing.T) {
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo())
	manager := managerUser("")
	manager.Department = nil

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/groups",
		strings.NewReader(`{"name":"orphan"}`)), manager)
	rec := httptest.NewRecorder()

	f.handler.HandleCreate(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.audit.actions())
}

func TestGroupHandleCreatePlainUserForbidden(t *testing.T) {
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo())

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/groups",
		strings.NewReader(`{"name":"rogue"}`)), testUser())
	rec := httptest.NewRecorder()

	f.handler.HandleCreate(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGroupHandleCreateDuplicateName(t *testing.T) {
	existing := models.NewGroup("admin-1", "research", "", nil)
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo(existing))

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/groups",
		strings.NewReader(`{"name":"research"}`)), adminUser())
	rec := httptest.NewRecorder()

	f.handler.HandleCreate(rec, req)

	// The service normalizes storage failures to nil, so the handler
	// cannot distinguish a duplicate name from any other failure.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.audit.actions())
}

func TestGroupHandleGetVisibility(t *testing.T) {
	g := models.NewGroup("owner-1", "research", "", []string{"member-1"})
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo(g))

	tests := []struct {
		name string
		user *models.User
		want int
	}{
		{"admin", adminUser(), http.StatusOK},
		{"owner", &models.User{ID: "owner-1", Role: models.RoleUser}, http.StatusOK},
		{"member", &models.User{ID: "member-1", Role: models.RoleUser}, http.StatusOK},
		{"outsider", &models.User{ID: "other-1", Role: models.RoleUser}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withURLParam(withUser(
				httptest.NewRequest(http.MethodGet, "/api/v1/groups/"+g.ID, nil),
				tt.user), "id", g.ID)
			rec := httptest.NewRecorder()

			f.handler.HandleGet(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGroupHandleGetMissing(t *testing.T) {
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo())

	req := withURLParam(withUser(
		httptest.NewRequest(http.MethodGet, "/api/v1/groups/missing", nil),
		adminUser()), "id", "missing")
	rec := httptest.NewRecorder()

	f.handler.HandleGet(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupHandleUpdate(t *testing.T) {
	g := models.NewGroup("admin-1", "research", "old", nil)
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo(g))

	req := withURLParam(withUser(
		httptest.NewRequest(http.MethodPut, "/api/v1/groups/"+g.ID,
			strings.NewReader(`{"description":"updated"}`)),
		adminUser()), "id", g.ID)
	rec := httptest.NewRecorder()

	f.handler.HandleUpdate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.groups.GetByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", stored.Description)
	assert.Equal(t, []models.AuditAction{models.AuditActionGroupUpdated}, f.audit.actions())
}

func TestGroupHandleUpdateForbiddenForNonManager(t *testing.T) {
	g := models.NewGroup("owner-1", "research", "", nil)
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo(g))

	req := withURLParam(withUser(
		httptest.NewRequest(http.MethodPut, "/api/v1/groups/"+g.ID,
			strings.NewReader(`{"description":"nope"}`)),
		testUser()), "id", g.ID)
	rec := httptest.NewRecorder()

	f.handler.HandleUpdate(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGroupHandleDelete(t *testing.T) {
	g := models.NewGroup("admin-1", "research", "", nil)
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo(g))

	req := withURLParam(withUser(
		httptest.NewRequest(http.MethodDelete, "/api/v1/groups/"+g.ID, nil),
		adminUser()), "id", g.ID)
	rec := httptest.NewRecorder()

	f.handler.HandleDelete(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := f.groups.GetByID(context.Background(), g.ID)
	assert.Error(t, err)
	assert.Equal(t, []models.AuditAction{models.AuditActionGroupDeleted}, f.audit.actions())
}

func TestGroupHandleAddMember(t *testing.T) {
	g := models.NewGroup("admin-1", "research", "", nil)
	target := &models.User{ID: "user-2", Email: "bob@example.com", Role: models.RoleUser}
	f := newGroupFixture(t, newMemUserRepo(target), newMemGroupRepo(g))

	req := withURLParam(withUser(
		httptest.NewRequest(http.MethodPost, "/api/v1/groups/"+g.ID+"/members",
			strings.NewReader(`{"user_id":"user-2"}`)),
		adminUser()), "id", g.ID)
	rec := httptest.NewRecorder()

	f.handler.HandleAddMember(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.groups.GetByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasMember("user-2"))
	assert.Equal(t, []models.AuditAction{models.AuditActionMemberAdded}, f.audit.actions())
}

func TestGroupHandleAddMemberAcrossDepartments(t *testing.T) {
	dept := "engineering"
	g := models.NewGroup("mgr-1", "eng-oncall", "", nil)
	g.ManagedBy = strPtr("mgr-1")
	g.Department = &dept

	outsider := &models.User{ID: "user-2", Role: models.RoleUser, Department: strPtr("sales")}
	f := newGroupFixture(t, newMemUserRepo(outsider), newMemGroupRepo(g))

	req := withURLParam(withUser(
		httptest.NewRequest(http.MethodPost, "/api/v1/groups/"+g.ID+"/members",
			strings.NewReader(`{"user_id":"user-2"}`)),
		managerUser(dept)), "id", g.ID)
	rec := httptest.NewRecorder()

	f.handler.HandleAddMember(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.audit.actions())
}

func TestGroupHandleAddMemberUnknownUser(t *testing.T) {
	g := models.NewGroup("admin-1", "research", "", nil)
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo(g))

	req := withURLParam(withUser(
		httptest.NewRequest(http.MethodPost, "/api/v1/groups/"+g.ID+"/members",
			strings.NewReader(`{"user_id":"ghost"}`)),
		adminUser()), "id", g.ID)
	rec := httptest.NewRecorder()

	f.handler.HandleAddMember(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupHandleRemoveMember(t *testing.T) {
	g := models.NewGroup("admin-1", "research", "", []string{"user-2"})
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo(g))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/groups/"+g.ID+"/members/user-2", nil)
	req = withUser(req, adminUser())
	req = withURLParam(req, "id", g.ID)
	req = withURLParam(req, "userID", "user-2")
	rec := httptest.NewRecorder()

	f.handler.HandleRemoveMember(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := f.groups.GetByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasMember("user-2"))
	assert.Equal(t, []models.AuditAction{models.AuditActionMemberRemoved}, f.audit.actions())
}

func TestGroupHandleListByRole(t *testing.T) {
	dept := "engineering"
	joined := models.NewGroup("admin-1", "joined", "", []string{"user-1"})
	deptGroup := models.NewGroup("mgr-1", "eng", "", nil)
	deptGroup.Department = &dept
	other := models.NewGroup("admin-1", "other", "", nil)

	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo(joined, deptGroup, other))

	tests := []struct {
		name      string
		user      *models.User
		wantNames []string
	}{
		{"admin sees all", adminUser(), []string{"joined", "eng", "other"}},
		{"manager sees department", managerUser(dept), []string{"eng"}},
		{"user sees joined", testUser(), []string{"joined"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil), tt.user)
			rec := httptest.NewRecorder()

			f.handler.HandleList(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)

			var body struct {
				Data []*models.Group `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			names := make([]string, 0, len(body.Data))
			for _, g := range body.Data {
				names = append(names, g.Name)
			}
			assert.ElementsMatch(t, tt.wantNames, names)
		})
	}
}

func TestGroupHandleManaged(t *testing.T) {
	managed := models.NewGroup("mgr-1", "eng", "", nil)
	managed.ManagedBy = strPtr("mgr-1")
	unmanaged := models.NewGroup("admin-1", "other", "", nil)

	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo(managed, unmanaged))

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/groups/managed", nil),
		managerUser("engineering"))
	rec := httptest.NewRecorder()

	f.handler.HandleManaged(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []*models.Group `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "eng", body.Data[0].Name)
}

func TestGroupHandleDepartmentStats(t *testing.T) {
	dept := "engineering"
	a := models.NewGroup("mgr-1", "eng-a", "", []string{"u1", "u2"})
	a.Department = &dept
	b := models.NewGroup("mgr-1", "eng-b", "", []string{"u2", "u3"})
	b.Department = &dept

	staff := []*models.User{
		{ID: "u1", Email: "u1@example.com", Role: models.RoleUser, Department: strPtr(dept)},
		{ID: "u2", Email: "u2@example.com", Role: models.RoleUser, Department: strPtr(dept)},
		{ID: "x1", Email: "x1@example.com", Role: models.RoleUser, Department: strPtr("sales")},
	}
	f := newGroupFixture(t, newMemUserRepo(staff...), newMemGroupRepo(a, b))

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/groups/stats/department", nil),
		managerUser(dept))
	rec := httptest.NewRecorder()

	f.handler.HandleDepartmentStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data DepartmentStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, dept, body.Data.Department)
	assert.Equal(t, 2, body.Data.GroupCount)
	assert.Equal(t, 3, body.Data.MemberCount) // distinct members across groups
	assert.Equal(t, 2, body.Data.StaffCount)  // users assigned to the department
}

func TestGroupHandleDepartmentStatsAdminNeedsQuery(t *testing.T) {
	f := newGroupFixture(t, newMemUserRepo(), newMemGroupRepo())

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/groups/stats/department", nil),
		adminUser())
	rec := httptest.NewRecorder()

	f.handler.HandleDepartmentStats(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
