package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

type txMarker struct{}

// MemStore is an in-memory implementation of every repository port plus a
// snapshot-based TransactionManager. A failed transaction restores the state
// it started from.
type MemStore struct {
	mu            sync.Mutex
	instances     map[entity.InstanceRef]*entity.WorkflowInstance
	notifications []*entity.Notification
	history       []*entity.TransitionHistory
	users         map[string]*entity.User

	// Fail maps an operation name such as "notification.insert" to the error it returns
	Fail map[string]error
	// Hook, when set, runs before every operation and can fail it
	Hook func(op string) error
	// Calls counts operations by name
	Calls map[string]int
}

// NewMemStore creates an empty store
func NewMemStore() *MemStore {
	return &MemStore{
		instances: make(map[entity.InstanceRef]*entity.WorkflowInstance),
		users:     make(map[string]*entity.User),
		Fail:      make(map[string]error),
		Calls:     make(map[string]int),
	}
}

func (s *MemStore) check(op string) error {
	s.Calls[op]++
	if s.Hook != nil {
		if err := s.Hook(op); err != nil {
			return err
		}
	}
	return s.Fail[op]
}

// Instances returns the store's instances as port.InstanceRepository
func (s *MemStore) Instances() port.InstanceRepository { return (*memInstances)(s) }

// Notifications returns the store's notifications as port.NotificationRepository
func (s *MemStore) Notifications() port.NotificationRepository { return (*memNotifications)(s) }

// History returns the store's history as port.HistoryRepository
func (s *MemStore) History() port.HistoryRepository { return (*memHistory)(s) }

// Users returns the store's users as port.UserRepository
func (s *MemStore) Users() port.UserRepository { return (*memUsers)(s) }

// WithTransaction snapshots the store, runs fn and restores the snapshot if fn fails
func (s *MemStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	if err := s.check("tx.begin"); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshot()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

type memSnapshot struct {
	instances     map[entity.InstanceRef]entity.WorkflowInstance
	notifications []entity.Notification
	history       int
}

func (s *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		instances: make(map[entity.InstanceRef]entity.WorkflowInstance, len(s.instances)),
		history:   len(s.history),
	}
	for k, v := range s.instances {
		snap.instances[k] = *v
	}
	for _, n := range s.notifications {
		snap.notifications = append(snap.notifications, *n)
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.instances = make(map[entity.InstanceRef]*entity.WorkflowInstance, len(snap.instances))
	for k, v := range snap.instances {
		v := v
		s.instances[k] = &v
	}
	s.notifications = nil
	for _, n := range snap.notifications {
		n := n
		s.notifications = append(s.notifications, &n)
	}
	s.history = s.history[:snap.history]
}

// Seed stores instances directly, bypassing failure injection
func (s *MemStore) Seed(instances ...*entity.WorkflowInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range instances {
		cp := *in
		s.instances[in.Ref()] = &cp
	}
}

// SeedUsers stores users directly
func (s *MemStore) SeedUsers(users ...*entity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		cp := *u
		s.users[u.ID] = &cp
	}
}

// SeedNotifications stores notification rows directly
func (s *MemStore) SeedNotifications(ns ...*entity.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range ns {
		cp := *n
		s.notifications = append(s.notifications, &cp)
	}
}

// Instance returns a copy of the stored instance, or nil
func (s *MemStore) Instance(ref entity.InstanceRef) *entity.WorkflowInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.instances[ref]
	if !ok {
		return nil
	}
	cp := *in
	return &cp
}

// NotificationsFor returns copies of the instance's notification rows
func (s *MemStore) NotificationsFor(ref entity.InstanceRef) []entity.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Notification
	for _, n := range s.notifications {
		if n.Kind == ref.Kind && n.InstanceID == ref.ID {
			out = append(out, *n)
		}
	}
	return out
}

// HistoryFor returns copies of the instance's history rows
func (s *MemStore) HistoryFor(ref entity.InstanceRef) []entity.TransitionHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.TransitionHistory
	for _, h := range s.history {
		if h.Kind == ref.Kind && h.InstanceID == ref.ID {
			out = append(out, *h)
		}
	}
	return out
}

var errNoRows = errors.New("no rows affected")

type memInstances MemStore

func (r *memInstances) store() *MemStore { return (*MemStore)(r) }

func (r *memInstances) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("instance.create"); err != nil {
		return err
	}
	if _, exists := s.instances[instance.Ref()]; exists {
		return errors.Newf("instance %s already exists", instance.ID)
	}
	cp := *instance
	s.instances[instance.Ref()] = &cp
	return nil
}

func (r *memInstances) GetByID(ctx context.Context, ref entity.InstanceRef) (*entity.WorkflowInstance, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("instance.get"); err != nil {
		return nil, err
	}
	in, ok := s.instances[ref]
	if !ok {
		return nil, nil
	}
	cp := *in
	return &cp, nil
}

func (r *memInstances) mutate(op string, ref entity.InstanceRef, fn func(*entity.WorkflowInstance)) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(op); err != nil {
		return err
	}
	in, ok := s.instances[ref]
	if !ok {
		return errNoRows
	}
	fn(in)
	return nil
}

func (r *memInstances) UpdateState(ctx context.Context, ref entity.InstanceRef, code string, at time.Time) error {
	return r.mutate("instance.update_state", ref, func(in *entity.WorkflowInstance) {
		in.StateCode = code
		in.LastActivityAt = at
		in.UpdatedAt = at
	})
}

func (r *memInstances) MarkSchoolChecked(ctx context.Context, ref entity.InstanceRef) error {
	return r.mutate("instance.mark_school_checked", ref, func(in *entity.WorkflowInstance) {
		in.SchoolChecked = true
	})
}

func (r *memInstances) SetHandler(ctx context.Context, ref entity.InstanceRef, userID string) error {
	return r.mutate("instance.set_handler", ref, func(in *entity.WorkflowInstance) {
		in.HandlerUserID = userID
	})
}

func (r *memInstances) SetApprovedAt(ctx context.Context, ref entity.InstanceRef, t time.Time) error {
	return r.mutate("instance.set_approved_at", ref, func(in *entity.WorkflowInstance) {
		in.ApprovedAt = &t
	})
}

func (r *memInstances) Delete(ctx context.Context, ref entity.InstanceRef) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("instance.delete"); err != nil {
		return err
	}
	delete(s.instances, ref)
	return nil
}

func (r *memInstances) list(op string, keep func(*entity.WorkflowInstance) bool) ([]*entity.WorkflowInstance, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(op); err != nil {
		return nil, err
	}
	var out []*entity.WorkflowInstance
	for _, in := range s.instances {
		if keep(in) {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memInstances) ListOpen(ctx context.Context, kind entity.Kind, terminal []string) ([]*entity.WorkflowInstance, error) {
	closed := make(map[string]bool, len(terminal))
	for _, c := range terminal {
		closed[c] = true
	}
	return r.list("instance.list_open", func(in *entity.WorkflowInstance) bool {
		return in.Kind == kind && !closed[in.StateCode]
	})
}

func (r *memInstances) ListByState(ctx context.Context, kind entity.Kind, code string) ([]*entity.WorkflowInstance, error) {
	return r.list("instance.list_by_state", func(in *entity.WorkflowInstance) bool {
		return in.Kind == kind && in.StateCode == code
	})
}

type memNotifications MemStore

func (r *memNotifications) store() *MemStore { return (*MemStore)(r) }

func (r *memNotifications) Insert(ctx context.Context, n *entity.Notification) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("notification.insert"); err != nil {
		return err
	}
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (r *memNotifications) DeleteByInstance(ctx context.Context, ref entity.InstanceRef) (int64, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("notification.delete"); err != nil {
		return 0, err
	}
	kept := s.notifications[:0]
	var deleted int64
	for _, n := range s.notifications {
		if n.Kind == ref.Kind && n.InstanceID == ref.ID {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	s.notifications = kept
	return deleted, nil
}

func (r *memNotifications) SetResendByInstance(ctx context.Context, ref entity.InstanceRef) (int64, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("notification.set_resend"); err != nil {
		return 0, err
	}
	var updated int64
	for _, n := range s.notifications {
		if n.Kind == ref.Kind && n.InstanceID == ref.ID {
			n.Resend = true
			updated++
		}
	}
	return updated, nil
}

func (r *memNotifications) ListByInstance(ctx context.Context, ref entity.InstanceRef) ([]*entity.Notification, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("notification.list"); err != nil {
		return nil, err
	}
	var out []*entity.Notification
	for _, n := range s.notifications {
		if n.Kind == ref.Kind && n.InstanceID == ref.ID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memNotifications) ListByUser(ctx context.Context, userID string) ([]*entity.Notification, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("notification.list"); err != nil {
		return nil, err
	}
	var out []*entity.Notification
	for _, n := range s.notifications {
		if n.TargetUserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Resend != out[j].Resend {
			return out[i].Resend
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type memHistory MemStore

func (r *memHistory) Create(ctx context.Context, h *entity.TransitionHistory) error {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("history.create"); err != nil {
		return err
	}
	cp := *h
	cp.ID = int64(len(s.history) + 1)
	s.history = append(s.history, &cp)
	h.ID = cp.ID
	return nil
}

func (r *memHistory) ListByInstance(ctx context.Context, ref entity.InstanceRef) ([]*entity.TransitionHistory, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("history.list"); err != nil {
		return nil, err
	}
	var out []*entity.TransitionHistory
	for _, h := range s.history {
		if h.Kind == ref.Kind && h.InstanceID == ref.ID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memUsers MemStore

func (r *memUsers) Create(ctx context.Context, u *entity.User) error {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("user.create"); err != nil {
		return err
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (r *memUsers) GetByID(ctx context.Context, id string) (*entity.User, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("user.get"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memUsers) ListByRole(ctx context.Context, role string) ([]*entity.User, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("user.list_by_role"); err != nil {
		return nil, err
	}
	var out []*entity.User
	for _, u := range s.users {
		if u.Role == role {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var (
	_ port.TransactionManager     = (*MemStore)(nil)
	_ port.InstanceRepository     = (*memInstances)(nil)
	_ port.NotificationRepository = (*memNotifications)(nil)
	_ port.HistoryRepository      = (*memHistory)(nil)
	_ port.UserRepository         = (*memUsers)(nil)
)
