package group

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resqzone/server/internal/alert"
	"github.com/resqzone/server/internal/apperror"
	"github.com/resqzone/server/internal/geo"
)

var london = geo.Point{Latitude: 51.5074, Longitude: -0.1278}

func east(p geo.Point, distanceKm float64) geo.Point {
	deg := distanceKm / (geo.EarthRadiusKm * math.Cos(p.Latitude*math.Pi/180)) * 180 / math.Pi
	return geo.Point{Latitude: p.Latitude, Longitude: p.Longitude + deg}
}

// memStore keeps groups in memory. InTx snapshots state and restores it when
// fn fails, which is enough to observe rollbacks.
type memStore struct {
	groups  map[int64]*Group
	members map[int64]map[int64]*Member
	nextID  int64
	locks   []int64
	onLock  func()
}

func newMemStore() *memStore {
	return &memStore{groups: map[int64]*Group{}, members: map[int64]map[int64]*Member{}}
}

func (m *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	groups := make(map[int64]*Group, len(m.groups))
	for id, g := range m.groups {
		c := *g
		groups[id] = &c
	}
	members := make(map[int64]map[int64]*Member, len(m.members))
	for gid, ms := range m.members {
		members[gid] = map[int64]*Member{}
		for uid, mem := range ms {
			c := *mem
			members[gid][uid] = &c
		}
	}
	nextID := m.nextID

	if err := fn(m); err != nil {
		m.groups, m.members, m.nextID = groups, members, nextID
		return err
	}
	return nil
}

func (m *memStore) LockArea(ctx context.Context, key int64) error {
	m.locks = append(m.locks, key)
	if m.onLock != nil {
		m.onLock()
	}
	return nil
}

func (m *memStore) ListGeoBound(ctx context.Context) ([]*Group, error) {
	var out []*Group
	for _, g := range m.groups {
		if g.IsGeoBound() {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*Group, error) {
	return m.groups[id], nil
}

func (m *memStore) LockByID(ctx context.Context, id int64) (*Group, error) {
	return m.groups[id], nil
}

func (m *memStore) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Group, int, error) {
	var out []*Group
	for gid, ms := range m.members {
		if _, ok := ms[userID]; ok {
			out = append(out, m.groups[gid])
		}
	}
	return out, len(out), nil
}

func (m *memStore) ListGroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	for gid, ms := range m.members {
		if _, ok := ms[userID]; ok {
			ids = append(ids, gid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) Create(ctx context.Context, g *Group) (*Group, error) {
	m.nextID++
	c := *g
	c.ID, c.CreatedAt, c.UpdatedAt = m.nextID, time.Now(), time.Now()
	m.groups[c.ID] = &c
	return &c, nil
}

func (m *memStore) Delete(ctx context.Context, id int64) error {
	delete(m.groups, id)
	delete(m.members, id)
	return nil
}

func (m *memStore) GetMembers(ctx context.Context, groupID int64) ([]*Member, error) {
	var out []*Member
	for _, mem := range m.members[groupID] {
		out = append(out, mem)
	}
	// owner first, then oldest, like the SQL ordering
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Role == RoleOwner) != (out[j].Role == RoleOwner) {
			return out[i].Role == RoleOwner
		}
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (m *memStore) GetMember(ctx context.Context, groupID, userID int64) (*Member, error) {
	return m.members[groupID][userID], nil
}

func (m *memStore) AddMember(ctx context.Context, groupID, userID int64, role MemberRole) (bool, error) {
	if m.members[groupID] == nil {
		m.members[groupID] = map[int64]*Member{}
	}
	if _, ok := m.members[groupID][userID]; ok {
		return false, nil
	}
	m.members[groupID][userID] = &Member{GroupID: groupID, UserID: userID, Role: role, JoinedAt: time.Now()}
	return true, nil
}

func (m *memStore) RemoveMember(ctx context.Context, groupID, userID int64) (bool, error) {
	if _, ok := m.members[groupID][userID]; !ok {
		return false, nil
	}
	delete(m.members[groupID], userID)
	return true, nil
}

func (m *memStore) CountMembers(ctx context.Context, groupID int64) (int, error) {
	return len(m.members[groupID]), nil
}

func (m *memStore) SetMemberRole(ctx context.Context, groupID, userID int64, role MemberRole) error {
	if mem, ok := m.members[groupID][userID]; ok {
		mem.Role = role
	}
	return nil
}

type fakeAlerter struct {
	sent []*alert.DirectedAlertInput
	err  error
}

func (f *fakeAlerter) SendDirectedAlert(ctx context.Context, in *alert.DirectedAlertInput) (*alert.FanoutResult, error) {
	f.sent = append(f.sent, in)
	return &alert.FanoutResult{DeliveredCount: len(in.RecipientIDs)}, f.err
}

type push struct {
	target string
	event  string
}

type fakeNotifier struct {
	pushes    []push
	evictions []push
}

func (n *fakeNotifier) Evict(ctx context.Context, userID int64, room string) {
	n.evictions = append(n.evictions, push{target: room, event: "user:" + itoa(userID)})
}

func (n *fakeNotifier) evicted(userID int64, room string) bool {
	for _, e := range n.evictions {
		if e.target == room && e.event == "user:"+itoa(userID) {
			return true
		}
	}
	return false
}

func (n *fakeNotifier) PushToUser(ctx context.Context, userID int64, event string, payload interface{}) {
	n.pushes = append(n.pushes, push{target: "user:" + itoa(userID), event: event})
}

func (n *fakeNotifier) PushToRoom(ctx context.Context, room, event string, payload interface{}) {
	n.pushes = append(n.pushes, push{target: room, event: event})
}

func (n *fakeNotifier) has(target, event string) bool {
	for _, p := range n.pushes {
		if p.target == target && p.event == event {
			return true
		}
	}
	return false
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

type fixture struct {
	store    *memStore
	alerts   *fakeAlerter
	notifier *fakeNotifier
	svc      *Service
}

func newFixture(opts Options) *fixture {
	log, _ := test.NewNullLogger()
	f := &fixture{store: newMemStore(), alerts: &fakeAlerter{}, notifier: &fakeNotifier{}}
	f.svc = NewService(f.store, f.alerts, f.notifier, opts, log)
	return f
}

func TestJoinOrCreateCreatesOwnedGroup(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	res, err := f.svc.JoinOrCreateLocalGroup(ctx, 1, london, &Address{Street: "Baker Street"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Joined)
	require.True(t, res.Group.IsGeoBound())
	assert.Equal(t, london, *res.Group.Center)
	assert.Equal(t, 0.2, *res.Group.RadiusKm)
	assert.Equal(t, "Baker Street", *res.Group.Name)
	assert.Equal(t, KindGroup, res.Group.Kind)

	owner, _ := f.store.GetMember(ctx, res.Group.ID, 1)
	require.NotNil(t, owner)
	assert.Equal(t, RoleOwner, owner.Role)

	require.Len(t, f.alerts.sent, 1)
	assert.Equal(t, []int64{1}, f.alerts.sent[0].RecipientIDs)
	assert.True(t, f.notifier.has("user:1", "group_created"))
	assert.True(t, f.notifier.has("user:1", "chat_list_changed"))
	assert.Empty(t, f.store.locks)
}

func TestSequentialJoinSharesGroup(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	a, err := f.svc.JoinOrCreateLocalGroup(ctx, 1, london, nil)
	require.NoError(t, err)

	b, err := f.svc.JoinOrCreateLocalGroup(ctx, 2, east(london, 0.05), nil)
	require.NoError(t, err)
	assert.False(t, b.Created)
	assert.True(t, b.Joined)
	assert.Equal(t, a.Group.ID, b.Group.ID)
	assert.Len(t, f.store.groups, 1)

	member, _ := f.store.GetMember(ctx, a.Group.ID, 2)
	require.NotNil(t, member)
	assert.Equal(t, RoleMember, member.Role)
	assert.True(t, f.notifier.has("chat:"+itoa(a.Group.ID), "member_joined"))
	assert.True(t, f.notifier.has("user:2", "chat_list_changed"))
}

func TestRejoinIsNoOp(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	first, err := f.svc.JoinOrCreateLocalGroup(ctx, 1, london, nil)
	require.NoError(t, err)
	alerts, pushes := len(f.alerts.sent), len(f.notifier.pushes)

	again, err := f.svc.JoinOrCreateLocalGroup(ctx, 1, east(london, 0.01), nil)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.False(t, again.Joined)
	assert.Equal(t, first.Group.ID, again.Group.ID)
	assert.Len(t, f.store.members[first.Group.ID], 1)
	assert.Len(t, f.alerts.sent, alerts)
	require.Len(t, f.notifier.pushes, pushes+1)
	assert.Equal(t, push{target: "user:1", event: "chat_list_changed"}, f.notifier.pushes[pushes])
}

func TestJoinPicksNearestCoveringGroup(t *testing.T) {
	f := newFixture(Options{DefaultRadiusKm: 0.5})
	ctx := context.Background()

	west, err := f.svc.JoinOrCreateLocalGroup(ctx, 1, london, nil)
	require.NoError(t, err)
	eastGroup, err := f.svc.JoinOrCreateLocalGroup(ctx, 2, east(london, 0.6), nil)
	require.NoError(t, err)
	require.True(t, eastGroup.Created)

	res, err := f.svc.JoinOrCreateLocalGroup(ctx, 3, east(london, 0.35), nil)
	require.NoError(t, err)
	assert.Equal(t, eastGroup.Group.ID, res.Group.ID)

	res, err = f.svc.JoinOrCreateLocalGroup(ctx, 4, east(london, 0.25), nil)
	require.NoError(t, err)
	assert.Equal(t, west.Group.ID, res.Group.ID)

	far, err := f.svc.JoinOrCreateLocalGroup(ctx, 5, east(london, 3), nil)
	require.NoError(t, err)
	assert.True(t, far.Created)
	assert.Len(t, f.store.groups, 3)
}

func TestJoinRejectsBadCoordinates(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.svc.JoinOrCreateLocalGroup(context.Background(), 1, geo.Point{Latitude: 120}, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidCoordinate)
	assert.Empty(t, f.store.groups)
}

func TestJoinSurvivesAlertFailure(t *testing.T) {
	f := newFixture(Options{})
	f.alerts.err = apperror.Store(errors.New("inbox down"))

	res, err := f.svc.JoinOrCreateLocalGroup(context.Background(), 1, london, nil)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, f.notifier.has("user:1", "group_created"))
}

func TestCreateLockRechecksCoverage(t *testing.T) {
	f := newFixture(Options{CreateLock: true})
	ctx := context.Background()

	// Another request creates a covering group while this one waits for the lock.
	f.store.onLock = func() {
		f.store.onLock = nil
		center, radius, name := east(london, 0.02), 0.2, "Racer"
		g, _ := f.store.Create(ctx, &Group{Kind: KindGroup, Name: &name, Center: &center, RadiusKm: &radius})
		f.store.AddMember(ctx, g.ID, 9, RoleOwner)
	}

	res, err := f.svc.JoinOrCreateLocalGroup(ctx, 1, london, nil)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.Joined)
	assert.Equal(t, "Racer", *res.Group.Name)
	assert.Len(t, f.store.groups, 1)
	require.Len(t, f.store.locks, 1)
	assert.Equal(t, geo.LockKey(geo.Cell(london, geo.DefaultCellPrecision)), f.store.locks[0])
}

func TestGroupName(t *testing.T) {
	assert.Equal(t, "High Street", groupName(london, &Address{Street: " High Street ", City: "London"}))
	assert.Equal(t, "London", groupName(london, &Address{City: "London"}))
	assert.Equal(t, "Local group 51.507, -0.128", groupName(london, nil))
}

func twoMemberGroup(t *testing.T, f *fixture) int64 {
	ctx := context.Background()
	a, err := f.svc.JoinOrCreateLocalGroup(ctx, 1, london, nil)
	require.NoError(t, err)
	_, err = f.svc.JoinOrCreateLocalGroup(ctx, 2, london, nil)
	require.NoError(t, err)
	return a.Group.ID
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	id := twoMemberGroup(t, f)

	_, err := f.svc.RemoveMember(ctx, id, 1, 1)
	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)

	_, err = f.svc.RemoveMember(ctx, id, 1, 2)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.svc.RemoveMember(ctx, 999, 2, 1)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.svc.RemoveMember(ctx, id, 3, 1)
	assert.ErrorIs(t, err, ErrMemberNotFound)

	disbanded, err := f.svc.RemoveMember(ctx, id, 2, 1)
	require.NoError(t, err)
	assert.False(t, disbanded)

	ok, err := f.svc.IsMember(ctx, id, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _ = f.svc.IsMember(ctx, id, 1)
	assert.True(t, ok)
	assert.True(t, f.notifier.has("user:2", "removed_from_chat"))
	assert.True(t, f.notifier.has("user:2", "chat_list_changed"))
	assert.True(t, f.notifier.evicted(2, "chat:"+itoa(id)))
	assert.False(t, f.notifier.evicted(1, "chat:"+itoa(id)))
}

func TestRemoveMemberAfterOwnershipMoved(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	id := twoMemberGroup(t, f)

	require.NoError(t, f.svc.TransferOwnership(ctx, id, 2, 1))

	_, err := f.svc.RemoveMember(ctx, id, 2, 1)
	assert.ErrorIs(t, err, ErrNotOwner)
	ok, _ := f.svc.IsMember(ctx, id, 2)
	assert.True(t, ok)
}

func TestSoleOwnerLeaveDisbands(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	res, err := f.svc.JoinOrCreateLocalGroup(ctx, 1, london, nil)
	require.NoError(t, err)

	disbanded, err := f.svc.Leave(ctx, res.Group.ID, 1)
	require.NoError(t, err)
	assert.True(t, disbanded)

	_, err = f.svc.GetByID(ctx, res.Group.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.True(t, f.notifier.has("chat:"+itoa(res.Group.ID), "group_disbanded"))

	// the area is free again
	again, err := f.svc.JoinOrCreateLocalGroup(ctx, 2, london, nil)
	require.NoError(t, err)
	assert.True(t, again.Created)
}

func TestOwnerCannotLeaveOthersBehind(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	id := twoMemberGroup(t, f)

	_, err := f.svc.Leave(ctx, id, 1)
	assert.ErrorIs(t, err, ErrOwnerMustTransfer)

	owner, _ := f.store.GetMember(ctx, id, 1)
	require.NotNil(t, owner, "membership restored after rollback")
	assert.Equal(t, RoleOwner, owner.Role)

	disbanded, err := f.svc.Leave(ctx, id, 2)
	require.NoError(t, err)
	assert.False(t, disbanded)

	_, err = f.svc.Leave(ctx, id, 2)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	id := twoMemberGroup(t, f)

	assert.ErrorIs(t, f.svc.TransferOwnership(ctx, id, 1, 2), apperror.ErrForbidden)
	assert.ErrorIs(t, f.svc.TransferOwnership(ctx, id, 1, 1), apperror.ErrInvalidOperation)
	assert.ErrorIs(t, f.svc.TransferOwnership(ctx, id, 7, 1), ErrMemberNotFound)
	assert.ErrorIs(t, f.svc.TransferOwnership(ctx, 999, 2, 1), apperror.ErrNotFound)

	require.NoError(t, f.svc.TransferOwnership(ctx, id, 2, 1))
	m1, _ := f.store.GetMember(ctx, id, 1)
	m2, _ := f.store.GetMember(ctx, id, 2)
	assert.Equal(t, RoleMember, m1.Role)
	assert.Equal(t, RoleOwner, m2.Role)
	assert.True(t, f.notifier.has("chat:"+itoa(id), "owner_changed"))

	disbanded, err := f.svc.Leave(ctx, id, 1)
	require.NoError(t, err)
	assert.False(t, disbanded)
}

func TestGetMembersOfMissingGroup(t *testing.T) {
	f := newFixture(Options{})
	_, err := f.svc.GetMembers(context.Background(), 42)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestLeaveAllHandsOwnershipToOldestMember(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	id := twoMemberGroup(t, f)
	_, err := f.svc.JoinOrCreateLocalGroup(ctx, 3, london, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.LeaveAll(ctx, 1))

	ok, _ := f.svc.IsMember(ctx, id, 1)
	assert.False(t, ok)
	heir, _ := f.store.GetMember(ctx, id, 2)
	require.NotNil(t, heir)
	assert.Equal(t, RoleOwner, heir.Role)
	other, _ := f.store.GetMember(ctx, id, 3)
	assert.Equal(t, RoleMember, other.Role)

	assert.True(t, f.notifier.has("chat:"+itoa(id), "owner_changed"))
	assert.True(t, f.notifier.evicted(1, "chat:"+itoa(id)))

	// the new owner can manage the group
	disbanded, err := f.svc.RemoveMember(ctx, id, 3, 2)
	require.NoError(t, err)
	assert.False(t, disbanded)
}

func TestLeaveAllDisbandsGroupsLeftEmpty(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	solo, err := f.svc.JoinOrCreateLocalGroup(ctx, 1, london, nil)
	require.NoError(t, err)
	shared, err := f.svc.JoinOrCreateLocalGroup(ctx, 2, east(london, 3), nil)
	require.NoError(t, err)
	_, err = f.svc.JoinOrCreateLocalGroup(ctx, 1, east(london, 3), nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.LeaveAll(ctx, 1))

	_, err = f.svc.GetByID(ctx, solo.Group.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.True(t, f.notifier.has("chat:"+itoa(solo.Group.ID), "group_disbanded"))

	owner, _ := f.store.GetMember(ctx, shared.Group.ID, 2)
	require.NotNil(t, owner)
	assert.Equal(t, RoleOwner, owner.Role)
	assert.Len(t, f.store.members[shared.Group.ID], 1)

	// nobody is enrolled into a leftover ownerless group
	again, err := f.svc.JoinOrCreateLocalGroup(ctx, 4, london, nil)
	require.NoError(t, err)
	assert.True(t, again.Created)

	require.NoError(t, f.svc.LeaveAll(ctx, 99))
}
