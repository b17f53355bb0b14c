// internal/store/memory.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jason-s-yu/sequence/internal/models"
)

const subscriberBuffer = 32

type roomDocs struct {
	room     *models.Room
	players  map[string]*models.Player
	proposal *models.ProposalDoc
	sessions map[string]*models.SpectatorSession
}

// Memory is an in-process Store. Each room has its own transaction mutex, so
// transactions on different rooms run in parallel while those on one room serialize.
type Memory struct {
	mu      sync.Mutex
	rooms   map[string]*roomDocs
	invites map[string]*models.SpectatorInvite
	txLocks map[string]*sync.Mutex
	subs    map[string]map[chan Change]struct{}

	now func() time.Time
}

// NewMemory returns an empty in-memory store. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		rooms:   make(map[string]*roomDocs),
		invites: make(map[string]*models.SpectatorInvite),
		txLocks: make(map[string]*sync.Mutex),
		subs:    make(map[string]map[chan Change]struct{}),
		now:     now,
	}
}

// clone deep-copies a document through its JSON form, which is the form it is persisted in.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: clone marshal: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("store: clone unmarshal: %v", err))
	}
	return out
}

func (m *Memory) CreateRoom(ctx context.Context, room *models.Room, host *models.Player) error {
	m.mu.Lock()
	if _, exists := m.rooms[room.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("room %s already exists", room.ID)
	}
	docs := &roomDocs{
		room:     clone(room),
		players:  make(map[string]*models.Player),
		sessions: make(map[string]*models.SpectatorSession),
	}
	if host != nil {
		docs.players[host.ID] = clone(host)
	}
	m.rooms[room.ID] = docs
	m.mu.Unlock()

	m.publish([]Change{{RoomID: room.ID, Kind: ChangeRoom, StatusVersion: room.StatusVersion, At: m.now()}})
	return nil
}

func (m *Memory) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(docs.room), nil
}

func (m *Memory) ListPlayers(ctx context.Context, roomID string) ([]*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return sortedPlayers(docs.players), nil
}

func (m *Memory) GetSession(ctx context.Context, roomID, sessionID string) (*models.SpectatorSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := docs.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Memory) ListRooms(ctx context.Context) ([]*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Room, 0, len(m.rooms))
	for _, docs := range m.rooms {
		out = append(out, clone(docs.room))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteRoom(ctx context.Context, roomID string) error {
	lock := m.txLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if _, ok := m.rooms[roomID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.rooms, roomID)
	for id, inv := range m.invites {
		if inv.RoomID == roomID {
			delete(m.invites, id)
		}
	}
	m.mu.Unlock()

	m.publish([]Change{{RoomID: roomID, Kind: ChangeDeleted, At: m.now()}})
	return nil
}

func (m *Memory) txLock(roomID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.txLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		m.txLocks[roomID] = l
	}
	return l
}

func (m *Memory) RunTx(ctx context.Context, roomID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := m.txLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{
		m:             m,
		roomID:        roomID,
		players:       make(map[string]*models.Player),
		deletedPlayer: make(map[string]bool),
		sessions:      make(map[string]*models.SpectatorSession),
		invites:       make(map[string]*models.SpectatorInvite),
	}
	if err := fn(tx); err != nil {
		return err
	}
	changes := tx.commit()
	m.publish(changes)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	ch := make(chan Change, subscriberBuffer)
	m.mu.Lock()
	if m.subs[roomID] == nil {
		m.subs[roomID] = make(map[chan Change]struct{})
	}
	m.subs[roomID][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[roomID], ch)
		if len(m.subs[roomID]) == 0 {
			delete(m.subs, roomID)
		}
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// publish fans changes out without blocking; a slow subscriber drops changes and is
// expected to re-read the documents it cares about.
func (m *Memory) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range changes {
		for ch := range m.subs[c.RoomID] {
			select {
			case ch <- c:
			default:
			}
		}
	}
}

func sortedPlayers(in map[string]*models.Player) []*models.Player {
	out := make([]*models.Player, 0, len(in))
	for _, p := range in {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memTx stages writes until commit.
type memTx struct {
	m      *Memory
	roomID string

	room          *models.Room
	roomDirty     bool
	players       map[string]*models.Player
	deletedPlayer map[string]bool
	proposal      *models.ProposalDoc
	proposalSet   bool
	proposalDel   bool
	sessions      map[string]*models.SpectatorSession
	invites       map[string]*models.SpectatorInvite
}

func (t *memTx) docs() (*roomDocs, bool) {
	docs, ok := t.m.rooms[t.roomID]
	return docs, ok
}

func (t *memTx) Room() (*models.Room, error) {
	if t.room != nil {
		return clone(t.room), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	docs, ok := t.docs()
	if !ok {
		return nil, ErrNotFound
	}
	return clone(docs.room), nil
}

func (t *memTx) PutRoom(room *models.Room) {
	t.room = clone(room)
	t.roomDirty = true
}

func (t *memTx) Players() ([]*models.Player, error) {
	t.m.mu.Lock()
	docs, ok := t.docs()
	if !ok {
		t.m.mu.Unlock()
		return nil, ErrNotFound
	}
	merged := make(map[string]*models.Player, len(docs.players))
	for id, p := range docs.players {
		merged[id] = p
	}
	t.m.mu.Unlock()

	for id, p := range t.players {
		merged[id] = p
	}
	for id := range t.deletedPlayer {
		delete(merged, id)
	}
	return sortedPlayers(merged), nil
}

func (t *memTx) Player(uid string) (*models.Player, error) {
	if t.deletedPlayer[uid] {
		return nil, ErrNotFound
	}
	if p, ok := t.players[uid]; ok {
		return clone(p), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	docs, ok := t.docs()
	if !ok {
		return nil, ErrNotFound
	}
	p, ok := docs.players[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (t *memTx) PutPlayer(p *models.Player) {
	delete(t.deletedPlayer, p.ID)
	t.players[p.ID] = clone(p)
}

func (t *memTx) DeletePlayer(uid string) {
	delete(t.players, uid)
	t.deletedPlayer[uid] = true
}

func (t *memTx) Proposal() (*models.ProposalDoc, error) {
	if t.proposalDel {
		return nil, nil
	}
	if t.proposalSet {
		return clone(t.proposal), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	docs, ok := t.docs()
	if !ok {
		return nil, ErrNotFound
	}
	return clone(docs.proposal), nil
}

func (t *memTx) PutProposal(doc *models.ProposalDoc) {
	t.proposal = clone(doc)
	t.proposalSet = true
	t.proposalDel = false
}

func (t *memTx) DeleteProposal() {
	t.proposal = nil
	t.proposalSet = false
	t.proposalDel = true
}

func (t *memTx) Session(id string) (*models.SpectatorSession, error) {
	if s, ok := t.sessions[id]; ok {
		return clone(s), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	docs, ok := t.docs()
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := docs.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (t *memTx) PutSession(s *models.SpectatorSession) {
	t.sessions[s.ID] = clone(s)
}

func (t *memTx) Invite(id string) (*models.SpectatorInvite, error) {
	if inv, ok := t.invites[id]; ok {
		return clone(inv), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	inv, ok := t.m.invites[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(inv), nil
}

func (t *memTx) PutInvite(inv *models.SpectatorInvite) {
	t.invites[inv.ID] = clone(inv)
}

func (t *memTx) commit() []Change {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	now := t.m.now()
	docs, ok := t.docs()
	if !ok {
		if t.room == nil {
			return nil
		}
		docs = &roomDocs{
			players:  make(map[string]*models.Player),
			sessions: make(map[string]*models.SpectatorSession),
		}
		t.m.rooms[t.roomID] = docs
	}

	var changes []Change
	if t.roomDirty {
		docs.room = t.room
	}
	version := int64(0)
	if docs.room != nil {
		version = docs.room.StatusVersion
	}
	add := func(kind ChangeKind, id string) {
		changes = append(changes, Change{RoomID: t.roomID, Kind: kind, ID: id, StatusVersion: version, At: now})
	}

	if t.roomDirty {
		add(ChangeRoom, "")
	}
	for id, p := range t.players {
		docs.players[id] = p
		add(ChangePlayer, id)
	}
	for id := range t.deletedPlayer {
		if _, existed := docs.players[id]; existed {
			delete(docs.players, id)
			add(ChangePlayer, id)
		}
	}
	if t.proposalSet {
		docs.proposal = t.proposal
		add(ChangeProposal, "")
	} else if t.proposalDel && docs.proposal != nil {
		docs.proposal = nil
		add(ChangeProposal, "")
	}
	for id, s := range t.sessions {
		docs.sessions[id] = s
		add(ChangeSession, id)
	}
	for id, inv := range t.invites {
		t.m.invites[id] = inv
		add(ChangeInvite, id)
	}
	return changes
}
