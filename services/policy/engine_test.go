package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
)

// MockGroupReader is a mock implementation of GroupReader
type MockGroupReader struct {
	mock.Mock
}

func (m *MockGroupReader) GetAll(ctx context.Context) ([]*models.Group, error) {
	args := m.Called(ctx)
	if groups := args.Get(0); groups != nil {
		return groups.([]*models.Group), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGroupReader) GetByMemberID(ctx context.Context, userID string) ([]*models.Group, error) {
	args := m.Called(ctx, userID)
	if groups := args.Get(0); groups != nil {
		return groups.([]*models.Group), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGroupReader) GetByDepartment(ctx context.Context, department string) ([]*models.Group, error) {
	args := m.Called(ctx, department)
	if groups := args.Get(0); groups != nil {
		return groups.([]*models.Group), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingAudit captures audit records for assertions
type recordingAudit struct {
	mu      sync.Mutex
	records []*models.AuditLog
}

func (r *recordingAudit) Record(log *models.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, log)
}

func (r *recordingAudit) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func strptr(s string) *string { return &s }

func newTestEngine(t *testing.T, groups GroupReader, audit AuditRecorder, override bool) *Engine {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	cache := NewMembershipCache(64, time.Minute)
	return NewEngine(groups, audit, cache, Config{LegacyAdminOverride: override}, logger)
}

func TestEngine_CanRead_Owner(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, false)

	owner := &models.User{ID: "u1", Role: models.RoleUser}
	kb := &models.KnowledgeBase{ID: "kb1", OwnerID: "u1"}

	assert.True(t, engine.CanRead(context.Background(), owner, kb))
	groups.AssertNotCalled(t, "GetByMemberID", mock.Anything, mock.Anything)
}

func TestEngine_CanRead_ExplicitUserGrant(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, false)

	user := &models.User{ID: "u2", Role: models.RoleUser}
	kb := &models.KnowledgeBase{
		ID:      "kb1",
		OwnerID: "u1",
		AccessControl: &models.AccessControl{
			Read: models.AccessGrant{UserIDs: []string{"u2"}},
		},
	}

	assert.True(t, engine.CanRead(context.Background(), user, kb))
	assert.False(t, engine.CanWrite(context.Background(), user, kb),
		"read grant must not imply write")
}

func TestEngine_CanRead_GroupGrant(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, false)

	user := &models.User{ID: "u2", Role: models.RoleUser}
	groups.On("GetByMemberID", mock.Anything, "u2").Return([]*models.Group{
		{ID: "g1", UserIDs: []string{"u2"}},
	}, nil)

	kb := &models.KnowledgeBase{
		ID:      "kb1",
		OwnerID: "u1",
		AccessControl: &models.AccessControl{
			Read: models.AccessGrant{GroupIDs: []string{"g1"}},
		},
	}

	assert.True(t, engine.CanRead(context.Background(), user, kb))
}

func TestEngine_CanRead_MembershipLookupFailureDenies(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, false)

	user := &models.User{ID: "u2", Role: models.RoleUser}
	groups.On("GetByMemberID", mock.Anything, "u2").Return(nil, assert.AnError)

	kb := &models.KnowledgeBase{
		ID:      "kb1",
		OwnerID: "u1",
		AccessControl: &models.AccessControl{
			Read: models.AccessGrant{GroupIDs: []string{"g1"}},
		},
	}

	assert.False(t, engine.CanRead(context.Background(), user, kb))
}

func TestEngine_LegacyOverride_Gating(t *testing.T) {
	admin := &models.User{ID: "a1", Role: models.RoleAdmin}
	kb := &models.KnowledgeBase{ID: "kb1", OwnerID: "u1"}

	// disabled: admin status alone confers nothing
	groups := new(MockGroupReader)
	audit := &recordingAudit{}
	engine := newTestEngine(t, groups, audit, false)
	assert.False(t, engine.CanRead(context.Background(), admin, kb))
	assert.Equal(t, 0, audit.count())

	// enabled: same call allows and emits an audit record
	engine = newTestEngine(t, groups, audit, true)
	decision := engine.Decide(context.Background(), admin, kb, models.ActionRead)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonLegacyOverride, decision.Reason)

	require.Equal(t, 1, audit.count())
	record := audit.records[0]
	assert.Equal(t, models.AuditActionPolicyException, record.Action)
	assert.Equal(t, "a1", record.ActorID)
	require.NotNil(t, record.ResourceID)
	assert.Equal(t, "kb1", *record.ResourceID)
}

func TestEngine_Decide_AddMemberDirectsToCanAddMember(t *testing.T) {
	engine := newTestEngine(t, new(MockGroupReader), nil, false)

	admin := &models.User{ID: "a1", Role: models.RoleAdmin}
	group := &models.Group{ID: "g1", OwnerID: "a1"}

	decision := engine.Decide(context.Background(), admin, group, models.ActionAddMember)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "CanAddMember")
}

func TestEngine_LegacyOverride_NonAdminUnaffected(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, true)

	user := &models.User{ID: "u2", Role: models.RoleUser}
	groups.On("GetByMemberID", mock.Anything, "u2").Return([]*models.Group{}, nil)
	kb := &models.KnowledgeBase{ID: "kb1", OwnerID: "u1"}

	assert.False(t, engine.CanRead(context.Background(), user, kb))
}

func TestEngine_CanManageGroup_AdminTotality(t *testing.T) {
	engine := newTestEngine(t, new(MockGroupReader), nil, false)
	admin := &models.User{ID: "a1", Role: models.RoleAdmin}

	groups := []*models.Group{
		{ID: "g1", OwnerID: "u9"},
		{ID: "g2", OwnerID: "u9", Department: strptr("sales"), ManagedBy: strptr("u7")},
		{ID: "g3", OwnerID: "a1"},
		{ID: "g4"},
	}
	for _, g := range groups {
		assert.True(t, engine.CanManageGroup(admin, g), "group %s", g.ID)
	}
}

func TestEngine_CanManageGroup_DepartmentMatchBeatsManagerMismatch(t *testing.T) {
	engine := newTestEngine(t, new(MockGroupReader), nil, false)

	manager := &models.User{ID: "u1", Role: models.RoleDepartmentManager, Department: strptr("eng")}
	group := &models.Group{ID: "g1", OwnerID: "u9", Department: strptr("eng"), ManagedBy: strptr("u9")}

	assert.True(t, engine.CanManageGroup(manager, group))
}

func TestEngine_CanManageGroup_DepartmentManager(t *testing.T) {
	engine := newTestEngine(t, new(MockGroupReader), nil, false)
	manager := &models.User{ID: "m1", Role: models.RoleDepartmentManager, Department: strptr("eng")}

	tests := []struct {
		name  string
		group *models.Group
		want  bool
	}{
		{"own department", &models.Group{OwnerID: "u9", Department: strptr("eng")}, true},
		{"other department", &models.Group{OwnerID: "u9", Department: strptr("sales")}, false},
		{"explicitly managed", &models.Group{OwnerID: "u9", ManagedBy: strptr("m1")}, true},
		{"created by manager", &models.Group{OwnerID: "u9", CreatedBy: strptr("m1")}, true},
		{"unattributed group", &models.Group{OwnerID: "u9"}, false},
		{"owned group", &models.Group{OwnerID: "m1"}, true},
		{"department set, no designated manager", &models.Group{OwnerID: "u9", Department: strptr("eng")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.CanManageGroup(manager, tt.group))
		})
	}
}

func TestEngine_CanManageGroup_PlainUserOwnerOnly(t *testing.T) {
	engine := newTestEngine(t, new(MockGroupReader), nil, false)
	user := &models.User{ID: "u1", Role: models.RoleUser, Department: strptr("eng")}

	assert.True(t, engine.CanManageGroup(user, &models.Group{OwnerID: "u1"}))
	assert.False(t, engine.CanManageGroup(user, &models.Group{OwnerID: "u9", Department: strptr("eng")}))
}

func TestEngine_CanAddMember(t *testing.T) {
	engine := newTestEngine(t, new(MockGroupReader), nil, false)

	manager := &models.User{ID: "m1", Role: models.RoleDepartmentManager, Department: strptr("eng")}
	admin := &models.User{ID: "a1", Role: models.RoleAdmin}
	owner := &models.User{ID: "o1", Role: models.RoleUser}

	sameDept := &models.User{ID: "u2", Role: models.RoleUser, Department: strptr("eng")}
	otherDept := &models.User{ID: "u3", Role: models.RoleUser, Department: strptr("sales")}
	noDept := &models.User{ID: "u4", Role: models.RoleUser}

	engGroup := &models.Group{ID: "g1", OwnerID: "o1", Department: strptr("eng")}

	// manage rights are a precondition
	foreign := &models.User{ID: "m2", Role: models.RoleDepartmentManager, Department: strptr("sales")}
	assert.False(t, engine.CanAddMember(foreign, sameDept, engGroup))

	// department managers only add from their own department
	assert.True(t, engine.CanAddMember(manager, sameDept, engGroup))
	assert.False(t, engine.CanAddMember(manager, otherDept, engGroup))
	assert.False(t, engine.CanAddMember(manager, noDept, engGroup))

	// admins add anyone
	assert.True(t, engine.CanAddMember(admin, otherDept, engGroup))
	assert.True(t, engine.CanAddMember(admin, noDept, engGroup))

	// owners manage their group but hold no add-member role
	assert.False(t, engine.CanAddMember(owner, sameDept, engGroup))
}

func TestEngine_AccessibleGroups_Admin(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, false)

	all := []*models.Group{{ID: "g1"}, {ID: "g2"}}
	groups.On("GetAll", mock.Anything).Return(all, nil)

	got, err := engine.AccessibleGroups(context.Background(), &models.User{ID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, all, got)
}

func TestEngine_AccessibleGroups_DepartmentManager(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, false)

	engGroups := []*models.Group{{ID: "g1", Department: strptr("eng")}}
	groups.On("GetByDepartment", mock.Anything, "eng").Return(engGroups, nil)

	manager := &models.User{ID: "m1", Role: models.RoleDepartmentManager, Department: strptr("eng")}
	got, err := engine.AccessibleGroups(context.Background(), manager)
	require.NoError(t, err)
	assert.Equal(t, engGroups, got)
}

func TestEngine_AccessibleGroups_ManagerWithoutDepartment(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, false)

	// fail-closed default: no department means no groups, not an error
	manager := &models.User{ID: "m1", Role: models.RoleDepartmentManager}
	got, err := engine.AccessibleGroups(context.Background(), manager)
	require.NoError(t, err)
	assert.Empty(t, got)
	groups.AssertNotCalled(t, "GetByDepartment", mock.Anything, mock.Anything)
}

func TestEngine_AccessibleGroups_User(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, false)

	g1 := &models.Group{ID: "g1", UserIDs: []string{"u2"}}
	groups.On("GetByMemberID", mock.Anything, "u2").Return([]*models.Group{g1}, nil)

	got, err := engine.AccessibleGroups(context.Background(), &models.User{ID: "u2", Role: models.RoleUser})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "g1", got[0].ID)
}

func TestEngine_MembershipCacheHit(t *testing.T) {
	groups := new(MockGroupReader)
	engine := newTestEngine(t, groups, nil, false)

	user := &models.User{ID: "u2", Role: models.RoleUser}
	groups.On("GetByMemberID", mock.Anything, "u2").Return([]*models.Group{{ID: "g1"}}, nil).Once()

	kb := &models.KnowledgeBase{
		ID:      "kb1",
		OwnerID: "u1",
		AccessControl: &models.AccessControl{
			Read: models.AccessGrant{GroupIDs: []string{"g1"}},
		},
	}

	assert.True(t, engine.CanRead(context.Background(), user, kb))
	assert.True(t, engine.CanRead(context.Background(), user, kb))
	groups.AssertNumberOfCalls(t, "GetByMemberID", 1)
}

func TestEngine_Decide_ManageOnNonGroup(t *testing.T) {
	engine := newTestEngine(t, new(MockGroupReader), nil, false)

	admin := &models.User{ID: "a1", Role: models.RoleAdmin}
	kb := &models.KnowledgeBase{ID: "kb1", OwnerID: "u1"}

	decision := engine.Decide(context.Background(), admin, kb, models.ActionManage)
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reason)
}
