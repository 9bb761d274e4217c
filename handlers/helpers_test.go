package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/knowledgehub/knowledge-hub/middleware"
	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
	"github.com/knowledgehub/knowledge-hub/services"
)

// memUserRepo is an in-memory UserRepository for handler tests.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
	fail  bool
}

func newMemUserRepo(users ...*models.User) *memUserRepo {
	r := &memUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		cp := *u
		r.users[u.ID] = &cp
	}
	return r
}

func (r *memUserRepo) check() error {
	if r.fail {
		return services.WrapInternal("user storage failed", nil)
	}
	return nil
}

func (r *memUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	for _, u := range r.users {
		if u.Email == user.Email {
			return services.ErrDuplicateEmail
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, services.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, services.ErrUserNotFound
}

func (r *memUserRepo) GetByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	for _, u := range r.users {
		if u.APIKey != nil && *u.APIKey == apiKey {
			cp := *u
			return &cp, nil
		}
	}
	return nil, services.ErrUserNotFound
}

func (r *memUserRepo) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memUserRepo) GetByDepartment(ctx context.Context, department string) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	var out []*models.User
	for _, u := range r.users {
		if u.DepartmentID() == department {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memUserRepo) Update(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	if _, ok := r.users[user.ID]; !ok {
		return services.ErrUserNotFound
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) UpdateAPIKey(ctx context.Context, id string, apiKey *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	u, ok := r.users[id]
	if !ok {
		return services.ErrUserNotFound
	}
	u.APIKey = apiKey
	return nil
}

func (r *memUserRepo) UpdateLastActiveAt(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	u, ok := r.users[id]
	if !ok {
		return services.ErrUserNotFound
	}
	u.LastActiveAt = at
	return nil
}

func (r *memUserRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	if _, ok := r.users[id]; !ok {
		return services.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

// memGroupRepo is an in-memory GroupRepository for handler tests.
type memGroupRepo struct {
	mu     sync.Mutex
	groups map[string]*models.Group
	fail   bool
}

func newMemGroupRepo(groups ...*models.Group) *memGroupRepo {
	r := &memGroupRepo{groups: make(map[string]*models.Group)}
	for _, g := range groups {
		r.groups[g.ID] = cloneGroup(g)
	}
	return r
}

func cloneGroup(g *models.Group) *models.Group {
	cp := *g
	cp.UserIDs = append([]string(nil), g.UserIDs...)
	return &cp
}

func (r *memGroupRepo) check() error {
	if r.fail {
		return services.WrapInternal("group storage failed", nil)
	}
	return nil
}

func (r *memGroupRepo) Create(ctx context.Context, group *models.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	for _, g := range r.groups {
		if g.Name == group.Name {
			return services.ErrDuplicateGroupName
		}
	}
	r.groups[group.ID] = cloneGroup(group)
	return nil
}

func (r *memGroupRepo) GetByID(ctx context.Context, id string) (*models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	g, ok := r.groups[id]
	if !ok {
		return nil, services.ErrGroupNotFound
	}
	return cloneGroup(g), nil
}

func (r *memGroupRepo) GetAll(ctx context.Context) ([]*models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make([]*models.Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, cloneGroup(g))
	}
	return out, nil
}

func (r *memGroupRepo) GetByMemberID(ctx context.Context, userID string) ([]*models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	var out []*models.Group
	for _, g := range r.groups {
		if g.HasMember(userID) {
			out = append(out, cloneGroup(g))
		}
	}
	return out, nil
}

func (r *memGroupRepo) GetByDepartment(ctx context.Context, department string) ([]*models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	var out []*models.Group
	for _, g := range r.groups {
		if g.DepartmentID() == department {
			out = append(out, cloneGroup(g))
		}
	}
	return out, nil
}

func (r *memGroupRepo) GetByManagedBy(ctx context.Context, userID string) ([]*models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	var out []*models.Group
	for _, g := range r.groups {
		if g.ManagedBy != nil && *g.ManagedBy == userID {
			out = append(out, cloneGroup(g))
		}
	}
	return out, nil
}

func (r *memGroupRepo) GetByNames(ctx context.Context, names []string) ([]*models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out []*models.Group
	for _, g := range r.groups {
		if _, ok := want[g.Name]; ok {
			out = append(out, cloneGroup(g))
		}
	}
	return out, nil
}

func (r *memGroupRepo) Update(ctx context.Context, group *models.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	if _, ok := r.groups[group.ID]; !ok {
		return services.ErrGroupNotFound
	}
	r.groups[group.ID] = cloneGroup(group)
	return nil
}

func (r *memGroupRepo) UpdateMembers(ctx context.Context, id string, userIDs []string, updatedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	g, ok := r.groups[id]
	if !ok {
		return services.ErrGroupNotFound
	}
	g.UserIDs = append([]string(nil), userIDs...)
	g.UpdatedAt = updatedAt
	return nil
}

func (r *memGroupRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	if _, ok := r.groups[id]; !ok {
		return services.ErrGroupNotFound
	}
	delete(r.groups, id)
	return nil
}

func (r *memGroupRepo) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	r.groups = make(map[string]*models.Group)
	return nil
}

// passthroughTxm runs the function without a real transaction.
type passthroughTxm struct{}

func (passthroughTxm) Begin(ctx context.Context) (repositories.Transaction, error) {
	return nopTx{ctx: ctx}, nil
}

func (passthroughTxm) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, nopTx{ctx: ctx})
}

type nopTx struct{ ctx context.Context }

func (t nopTx) Commit() error            { return nil }
func (t nopTx) Rollback() error          { return nil }
func (t nopTx) Context() context.Context { return t.ctx }

// nopCache satisfies group.MembershipInvalidator.
type nopCache struct{}

func (nopCache) Invalidate(string) {}

// nopAudit satisfies policy.AuditRecorder and records nothing.
type nopAudit struct{}

func (nopAudit) Record(*models.AuditLog) {}

// capturingAudit remembers every recorded log.
type capturingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *capturingAudit) Record(log *models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
}

func (a *capturingAudit) actions() []models.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.AuditAction, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

func withUser(r *http.Request, user *models.User) *http.Request {
	return r.WithContext(middleware.WithUser(r.Context(), user))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx, ok := r.Context().Value(chi.RouteCtxKey).(*chi.Context)
	if !ok {
		rctx = chi.NewRouteContext()
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	rctx.URLParams.Add(key, value)
	return r
}

func strPtr(s string) *string { return &s }
