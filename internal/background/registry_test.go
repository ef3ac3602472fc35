package background_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/background"
	"github.com/mattjoyce/courier/internal/background/mocks"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func noop(context.Context, background.Activation) error { return nil }

func unit(name, trigger string) background.Unit {
	return background.Unit{Name: name, Trigger: background.MustParseTrigger(trigger), Run: noop}
}

func reg(id, name, trigger string) background.Registration {
	tr := background.MustParseTrigger(trigger)
	return background.Registration{ID: id, Name: name, Trigger: tr.String(), Fingerprint: tr.Fingerprint(), RegisteredAt: time.Now()}
}

// memHost is an in-memory Host.
type memHost struct {
	mu     sync.Mutex
	regs   []background.Registration
	access background.Access
	nextID int
}

func (h *memHost) RequestAccess(context.Context) (background.Access, error) {
	if h.access == "" {
		return background.AccessGranted, nil
	}
	return h.access, nil
}

func (h *memHost) Register(_ context.Context, name string, tr background.Trigger, network bool) (background.Registration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	r := background.Registration{
		ID: fmt.Sprintf("r%d", h.nextID), Name: name, Trigger: tr.String(),
		Fingerprint: tr.Fingerprint(), RequiresNetwork: network, RegisteredAt: time.Now(),
	}
	h.regs = append(h.regs, r)
	return r, nil
}

func (h *memHost) Unregister(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.regs {
		if r.ID == id {
			h.regs = append(h.regs[:i], h.regs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (h *memHost) Registrations(context.Context) ([]background.Registration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]background.Registration(nil), h.regs...), nil
}

func (h *memHost) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.regs {
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}

func TestRegisterUnitRejectsDuplicates(t *testing.T) {
	r := background.NewRegistry(&memHost{}, nil)
	require.NoError(t, r.RegisterUnit(unit("sync", "hourly")))

	err := r.RegisterUnit(unit("sync", "daily"))
	assert.ErrorIs(t, err, background.ErrDuplicateUnit)

	u, ok := r.Lookup("sync")
	require.True(t, ok)
	assert.Equal(t, "hourly", u.Trigger.String(), "first unit is kept")
	assert.Len(t, r.Units(), 1)
}

func TestRegisterUnitValidation(t *testing.T) {
	r := background.NewRegistry(&memHost{}, nil)
	assert.Error(t, r.RegisterUnit(background.Unit{Name: "", Trigger: background.MustParseTrigger("hourly"), Run: noop}))
	assert.Error(t, r.RegisterUnit(background.Unit{Name: "x", Trigger: background.MustParseTrigger("hourly")}))
	assert.Error(t, r.RegisterUnit(background.Unit{Name: "x", Run: noop}))
}

func TestRegisterUnitAfterSeal(t *testing.T) {
	r := background.NewRegistry(&memHost{}, nil)
	r.Seal()
	assert.ErrorIs(t, r.RegisterUnit(unit("late", "hourly")), background.ErrSealed)
}

func TestReconcileRemovesOrphans(t *testing.T) {
	host := &memHost{regs: []background.Registration{
		reg("a1", "A", "hourly"),
		reg("b1", "B", "hourly"),
		reg("c1", "C", "daily"),
	}}
	hub := events.NewHub(10)
	r := background.NewRegistry(host, hub)
	require.NoError(t, r.RegisterUnit(unit("A", "hourly")))
	require.NoError(t, r.RegisterUnit(unit("C", "daily")))

	res, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "C"}, host.names())
	require.Len(t, res.Removed, 1)
	assert.Equal(t, "B", res.Removed[0].Name)
	assert.Len(t, res.Kept, 2)

	st, ok := r.Status("A")
	require.True(t, ok)
	assert.Equal(t, background.StateActive, st.State)
	assert.Equal(t, "a1", st.RegistrationID)

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 1)
	assert.Equal(t, events.UnitOrphanRemoved, snap[0].Type)
}

func TestReconcileRemovesDuplicatesAndChangedTriggers(t *testing.T) {
	host := &memHost{regs: []background.Registration{
		reg("a1", "A", "hourly"),
		reg("a2", "A", "hourly"),
		reg("c1", "C", "hourly"), // unit now runs daily
	}}
	r := background.NewRegistry(host, nil)
	require.NoError(t, r.RegisterUnit(unit("A", "hourly")))
	require.NoError(t, r.RegisterUnit(unit("C", "daily")))

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, host.names())

	require.NoError(t, r.Start(context.Background(), false))
	assert.Equal(t, []string{"A", "C"}, host.names())
}

func TestReconcileSeals(t *testing.T) {
	r := background.NewRegistry(&memHost{}, nil)
	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, r.RegisterUnit(unit("x", "hourly")), background.ErrSealed)
}

func TestReconcileContinuesPastUnregisterFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)
	ctx := context.Background()

	host.EXPECT().Registrations(ctx).Return([]background.Registration{
		reg("x1", "X", "hourly"),
		reg("y1", "Y", "hourly"),
	}, nil)
	host.EXPECT().Unregister(ctx, "x1").Return(errors.New("host busy"))
	host.EXPECT().Unregister(ctx, "y1").Return(nil)

	r := background.NewRegistry(host, nil)
	res, err := r.Reconcile(ctx)
	assert.Error(t, err)
	require.Len(t, res.Removed, 1)
	assert.Equal(t, "Y", res.Removed[0].Name)
}

func TestEnsureRegisteredReusesExisting(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)
	ctx := context.Background()

	host.EXPECT().Registrations(ctx).Return([]background.Registration{reg("a1", "A", "hourly")}, nil).Times(1)
	// No RequestAccess or Register calls are expected.

	r := background.NewRegistry(host, nil)
	require.NoError(t, r.RegisterUnit(unit("A", "hourly")))
	_, err := r.Reconcile(ctx)
	require.NoError(t, err)

	ok, err := r.EnsureRegistered(ctx, "A", false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureRegisteredForceReRegisters(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)
	ctx := context.Background()
	u := unit("A", "hourly")

	existing := reg("a1", "A", "hourly")
	gomock.InOrder(
		host.EXPECT().Registrations(ctx).Return([]background.Registration{existing}, nil),
		host.EXPECT().Unregister(ctx, "a1").Return(nil),
		host.EXPECT().RequestAccess(ctx).Return(background.AccessGranted, nil),
		host.EXPECT().Register(ctx, "A", u.Trigger, false).Return(reg("a2", "A", "hourly"), nil),
	)

	r := background.NewRegistry(host, nil)
	require.NoError(t, r.RegisterUnit(u))

	ok, err := r.EnsureRegistered(ctx, "A", true)
	require.NoError(t, err)
	assert.True(t, ok)

	st, _ := r.Status("A")
	assert.Equal(t, "a2", st.RegistrationID)
}

func TestEnsureRegisteredDeniedMarksInactive(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)
	ctx := context.Background()

	host.EXPECT().Registrations(ctx).Return(nil, nil)
	host.EXPECT().RequestAccess(ctx).Return(background.AccessDeniedByPolicy, nil)

	hub := events.NewHub(10)
	r := background.NewRegistry(host, hub)
	require.NoError(t, r.RegisterUnit(unit("A", "hourly")))

	ok, err := r.EnsureRegistered(ctx, "A", false)
	require.NoError(t, err, "denial is not raised")
	assert.False(t, ok)

	st, _ := r.Status("A")
	assert.Equal(t, background.StateInactive, st.State)
	assert.Contains(t, st.Error, string(background.AccessDeniedByPolicy))

	snap := hub.SnapshotSince(0)
	require.NotEmpty(t, snap)
	assert.Equal(t, events.UnitInactive, snap[len(snap)-1].Type)
}

func TestEnsureRegisteredHostErrorMarksInactive(t *testing.T) {
	ctrl := gomock.NewController(t)
	host := mocks.NewMockHost(ctrl)
	ctx := context.Background()

	host.EXPECT().Registrations(ctx).Return(nil, nil)
	host.EXPECT().RequestAccess(ctx).Return(background.AccessGranted, nil)
	host.EXPECT().Register(ctx, "A", gomock.Any(), false).Return(background.Registration{}, errors.New("quota exceeded"))

	r := background.NewRegistry(host, nil)
	require.NoError(t, r.RegisterUnit(unit("A", "hourly")))

	ok, err := r.EnsureRegistered(ctx, "A", false)
	require.NoError(t, err)
	assert.False(t, ok)

	st, _ := r.Status("A")
	assert.Equal(t, background.StateInactive, st.State)
	assert.Contains(t, st.Error, "quota exceeded")
}

func TestEnsureRegisteredUnknownUnit(t *testing.T) {
	r := background.NewRegistry(&memHost{}, nil)
	_, err := r.EnsureRegistered(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, background.ErrUnknownUnit)
}

func TestRetryAfterDenial(t *testing.T) {
	host := &memHost{access: background.AccessDenied}
	r := background.NewRegistry(host, nil)
	require.NoError(t, r.RegisterUnit(unit("A", "hourly")))
	ctx := context.Background()

	ok, err := r.EnsureRegistered(ctx, "A", false)
	require.NoError(t, err)
	assert.False(t, ok)

	host.access = background.AccessGranted
	ok, err = r.EnsureRegistered(ctx, "A", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"A"}, host.names())
}

func TestUnregister(t *testing.T) {
	host := &memHost{}
	r := background.NewRegistry(host, nil)
	require.NoError(t, r.RegisterUnit(unit("A", "hourly")))
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, false))
	assert.Equal(t, []string{"A"}, host.names())

	require.NoError(t, r.Unregister(ctx, "A"))
	assert.Empty(t, host.names())
	st, _ := r.Status("A")
	assert.Equal(t, background.StateUnregistered, st.State)

	assert.ErrorIs(t, r.Unregister(ctx, "ghost"), background.ErrUnknownUnit)
}

func TestStatusesInRegistrationOrder(t *testing.T) {
	r := background.NewRegistry(&memHost{}, nil)
	require.NoError(t, r.RegisterUnit(unit("b", "hourly")))
	require.NoError(t, r.RegisterUnit(unit("a", "daily")))

	sts := r.Statuses()
	require.Len(t, sts, 2)
	assert.Equal(t, "b", sts[0].Name)
	assert.Equal(t, background.StatePending, sts[0].State)
	assert.Equal(t, "daily", sts[1].Trigger)
}
