package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"guest-messaging/internal/models"
)

// Memory is an in-memory Store useful for tests. It is not intended for
// production use. Transactions are serialized and roll back by restoring a
// snapshot of all tables.
type Memory struct {
	db   *memoryDB
	inTx bool
}

type memoryDB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	t    memoryTables

	// failCreateGuest, when set, is consulted before every guest insert.
	failCreateGuest func(models.Guest) error
}

type memoryTables struct {
	orgs       map[string]models.Organization
	events     map[string]models.Event
	guests     map[string]models.Guest
	groups     map[string]models.GuestGroup
	sessions   map[string]models.ChatSession
	messages   []models.InboundMessage
	chatLogs   []models.ChatLog
	deliveries map[string]models.MessageDelivery
	usageEvts  map[string]models.UsageEvent
	usage      map[string]models.UsageCounter

	// guestSeq preserves insertion order for guests sharing a timestamp.
	guestSeq map[string]int64
	nextSeq  int64
}

func newMemoryTables() memoryTables {
	return memoryTables{
		orgs:       map[string]models.Organization{},
		events:     map[string]models.Event{},
		guests:     map[string]models.Guest{},
		groups:     map[string]models.GuestGroup{},
		sessions:   map[string]models.ChatSession{},
		deliveries: map[string]models.MessageDelivery{},
		usageEvts:  map[string]models.UsageEvent{},
		usage:      map[string]models.UsageCounter{},
		guestSeq:   map[string]int64{},
	}
}

func (t memoryTables) clone() memoryTables {
	out := memoryTables{
		orgs:       cloneMap(t.orgs),
		events:     cloneMap(t.events),
		guests:     cloneMap(t.guests),
		groups:     cloneMap(t.groups),
		sessions:   cloneMap(t.sessions),
		deliveries: cloneMap(t.deliveries),
		usageEvts:  cloneMap(t.usageEvts),
		usage:      cloneMap(t.usage),
		guestSeq:   cloneMap(t.guestSeq),
		nextSeq:    t.nextSeq,
	}
	out.messages = append([]models.InboundMessage(nil), t.messages...)
	out.chatLogs = append([]models.ChatLog(nil), t.chatLogs...)
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func NewMemory() *Memory {
	return &Memory{db: &memoryDB{t: newMemoryTables()}}
}

// SetFailCreateGuest installs a failure hook for guest inserts.
func (m *Memory) SetFailCreateGuest(fn func(models.Guest) error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.failCreateGuest = fn
}

// Seed helpers for tests.

func (m *Memory) PutOrganization(o models.Organization) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.t.orgs[o.ID] = o
}

func (m *Memory) PutEvent(e models.Event) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.t.events[e.ID] = e
}

func (m *Memory) PutGuest(g models.Guest) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.putGuestLocked(g)
}

func (m *Memory) putGuestLocked(g models.Guest) {
	if _, ok := m.db.t.guestSeq[g.ID]; !ok {
		m.db.t.nextSeq++
		m.db.t.guestSeq[g.ID] = m.db.t.nextSeq
	}
	m.db.t.guests[g.ID] = g
}

// Guests returns every guest of an event, ordered by creation time then id.
func (m *Memory) Guests(eventID string) []models.Guest {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make([]models.Guest, 0)
	for _, g := range m.db.t.guests {
		if g.EventID == eventID {
			out = append(out, g)
		}
	}
	m.sortGuestsLocked(out)
	return out
}

func (m *Memory) Groups(eventID string) []models.GuestGroup {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make([]models.GuestGroup, 0)
	for _, g := range m.db.t.groups {
		if g.EventID == eventID {
			out = append(out, g)
		}
	}
	return out
}

func (m *Memory) WithTx(ctx context.Context, fn TxFunc) (err error) {
	if m.inTx {
		return fn(ctx, m)
	}
	m.db.txMu.Lock()
	defer m.db.txMu.Unlock()

	m.db.mu.Lock()
	snapshot := m.db.t.clone()
	m.db.mu.Unlock()

	rollback := func() {
		m.db.mu.Lock()
		m.db.t = snapshot
		m.db.mu.Unlock()
	}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
		if err != nil {
			rollback()
		}
	}()

	return fn(ctx, &Memory{db: m.db, inTx: true})
}

func (m *Memory) FindOrganizationByNumber(ctx context.Context, number string) (models.Organization, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, o := range m.db.t.orgs {
		if o.WhatsAppNumber == number {
			return o, nil
		}
	}
	return models.Organization{}, ErrNotFound
}

func (m *Memory) GetOrganization(ctx context.Context, organizationID string) (models.Organization, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.t.orgs[organizationID]
	if !ok {
		return models.Organization{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) GetEvent(ctx context.Context, organizationID, eventID string) (models.Event, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	e, ok := m.db.t.events[eventID]
	if !ok || e.OrganizationID != organizationID {
		return models.Event{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) GetGuest(ctx context.Context, eventID, guestID string) (models.Guest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	g, ok := m.db.t.guests[guestID]
	if !ok || g.EventID != eventID {
		return models.Guest{}, ErrNotFound
	}
	return g, nil
}

func (m *Memory) FindGuestByPhone(ctx context.Context, organizationID, phone string) (models.Guest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	matches := make([]models.Guest, 0, 1)
	for _, g := range m.db.t.guests {
		if g.OrganizationID == organizationID && g.Phone != "" && g.Phone == phone {
			matches = append(matches, g)
		}
	}
	if len(matches) == 0 {
		return models.Guest{}, ErrNotFound
	}
	// Most recently created guest wins, same as the SQL implementation.
	m.sortGuestsLocked(matches)
	return matches[len(matches)-1], nil
}

func (m *Memory) ListGroupMembers(ctx context.Context, groupID string) ([]models.Guest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make([]models.Guest, 0)
	for _, g := range m.db.t.guests {
		if g.GroupID == groupID {
			out = append(out, g)
		}
	}
	m.sortGuestsLocked(out)
	return out, nil
}

func (m *Memory) CountGuests(ctx context.Context, eventID string) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n := 0
	for _, g := range m.db.t.guests {
		if g.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateGuest(ctx context.Context, g models.Guest) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.failCreateGuest != nil {
		if err := m.db.failCreateGuest(g); err != nil {
			return err
		}
	}
	if _, ok := m.db.t.guests[g.ID]; ok || m.hasDedupeKeyLocked(g) {
		return ErrDuplicate
	}
	m.putGuestLocked(g)
	return nil
}

func (m *Memory) InsertGuestsSkipDuplicates(ctx context.Context, gs []models.Guest) ([]string, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.failCreateGuest != nil {
		for _, g := range gs {
			if err := m.db.failCreateGuest(g); err != nil {
				return nil, err
			}
		}
	}
	inserted := make([]string, 0, len(gs))
	for _, g := range gs {
		if _, ok := m.db.t.guests[g.ID]; ok || m.hasDedupeKeyLocked(g) {
			continue
		}
		m.putGuestLocked(g)
		inserted = append(inserted, g.ID)
	}
	return inserted, nil
}

func (m *Memory) hasDedupeKeyLocked(g models.Guest) bool {
	if g.DedupeKey == "" {
		return false
	}
	for _, existing := range m.db.t.guests {
		if existing.EventID == g.EventID && existing.DedupeKey == g.DedupeKey {
			return true
		}
	}
	return false
}

func (m *Memory) UpdateGuest(ctx context.Context, g models.Guest) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	cur, ok := m.db.t.guests[g.ID]
	if !ok || cur.EventID != g.EventID {
		return ErrNotFound
	}
	m.db.t.guests[g.ID] = g
	return nil
}

func (m *Memory) DeleteGuest(ctx context.Context, eventID, guestID string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	cur, ok := m.db.t.guests[guestID]
	if !ok || cur.EventID != eventID {
		return ErrNotFound
	}
	delete(m.db.t.guests, guestID)
	delete(m.db.t.guestSeq, guestID)
	return nil
}

func (m *Memory) CreateGroup(ctx context.Context, g models.GuestGroup) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.t.groups[g.ID]; ok {
		return ErrDuplicate
	}
	m.db.t.groups[g.ID] = g
	return nil
}

func (m *Memory) GetGroup(ctx context.Context, eventID, groupID string) (models.GuestGroup, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	g, ok := m.db.t.groups[groupID]
	if !ok || g.EventID != eventID {
		return models.GuestGroup{}, ErrNotFound
	}
	return g, nil
}

func (m *Memory) DeleteGroup(ctx context.Context, eventID, groupID string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	g, ok := m.db.t.groups[groupID]
	if !ok || g.EventID != eventID {
		return ErrNotFound
	}
	delete(m.db.t.groups, groupID)
	return nil
}

func (m *Memory) FindSession(ctx context.Context, organizationID, phone string) (models.ChatSession, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, s := range m.db.t.sessions {
		if s.OrganizationID == organizationID && s.Phone == phone {
			return s, nil
		}
	}
	return models.ChatSession{}, ErrNotFound
}

func (m *Memory) GetSession(ctx context.Context, sessionID string) (models.ChatSession, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	s, ok := m.db.t.sessions[sessionID]
	if !ok {
		return models.ChatSession{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) CreateSession(ctx context.Context, s models.ChatSession) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, cur := range m.db.t.sessions {
		if cur.ID == s.ID || (cur.OrganizationID == s.OrganizationID && cur.Phone == s.Phone) {
			return ErrDuplicate
		}
	}
	m.db.t.sessions[s.ID] = s
	return nil
}

func (m *Memory) UpdateSession(ctx context.Context, s models.ChatSession) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.t.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.db.t.sessions[s.ID] = s
	return nil
}

func (m *Memory) DeactivateIdleSessions(ctx context.Context, lastMessageBefore time.Time) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n := 0
	for id, s := range m.db.t.sessions {
		if s.IsActive && s.LastMessageAt.Before(lastMessageBefore) {
			s.IsActive = false
			m.db.t.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendInboundMessage(ctx context.Context, msg models.InboundMessage) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, cur := range m.db.t.messages {
		if cur.ID == msg.ID {
			return ErrDuplicate
		}
		if msg.ProviderMessageID != "" && cur.ProviderMessageID == msg.ProviderMessageID {
			return ErrDuplicate
		}
	}
	m.db.t.messages = append(m.db.t.messages, msg)
	return nil
}

func (m *Memory) ListUnprocessedMessages(ctx context.Context, sessionID string) ([]models.InboundMessage, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make([]models.InboundMessage, 0)
	for _, msg := range m.db.t.messages {
		if msg.SessionID == sessionID && msg.ProcessedAt == nil {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (m *Memory) MarkMessagesProcessed(ctx context.Context, ids []string, at time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i, msg := range m.db.t.messages {
		if _, ok := want[msg.ID]; ok && msg.ProcessedAt == nil {
			ts := at
			m.db.t.messages[i].ProcessedAt = &ts
		}
	}
	return nil
}

func (m *Memory) AppendChatLog(ctx context.Context, l models.ChatLog) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.t.chatLogs = append(m.db.t.chatLogs, l)
	return nil
}

func (m *Memory) ListChatLogs(ctx context.Context, sessionID string, limit int) ([]models.ChatLog, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make([]models.ChatLog, 0)
	for _, l := range m.db.t.chatLogs {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) CreateDelivery(ctx context.Context, d models.MessageDelivery) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.t.deliveries[d.MessageSid]; ok {
		return ErrDuplicate
	}
	m.db.t.deliveries[d.MessageSid] = d
	return nil
}

func (m *Memory) GetDeliveryForUpdate(ctx context.Context, messageSid string) (models.MessageDelivery, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.t.deliveries[messageSid]
	if !ok {
		return models.MessageDelivery{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) UpdateDelivery(ctx context.Context, d models.MessageDelivery) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.t.deliveries[d.MessageSid]; !ok {
		return ErrNotFound
	}
	m.db.t.deliveries[d.MessageSid] = d
	return nil
}

func (m *Memory) ListDeliveries(ctx context.Context, organizationID string, from, to time.Time) ([]models.MessageDelivery, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make([]models.MessageDelivery, 0)
	for _, d := range m.db.t.deliveries {
		if d.OrganizationID != organizationID {
			continue
		}
		if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) InsertUsageEvent(ctx context.Context, e models.UsageEvent) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.t.usageEvts[e.MessageSid]; ok {
		return false, nil
	}
	m.db.t.usageEvts[e.MessageSid] = e
	return true, nil
}

func (m *Memory) IncrementUsage(ctx context.Context, organizationID, period string, delta int64, at time.Time) (models.UsageCounter, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	key := organizationID + "|" + period
	c, ok := m.db.t.usage[key]
	if !ok {
		c = models.UsageCounter{OrganizationID: organizationID, Period: period}
	}
	c.MessagesCount += delta
	c.UpdatedAt = at
	m.db.t.usage[key] = c
	return c, nil
}

func (m *Memory) GetUsage(ctx context.Context, organizationID, period string) (models.UsageCounter, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.t.usage[organizationID+"|"+period]
	if !ok {
		return models.UsageCounter{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) sortGuestsLocked(gs []models.Guest) {
	seq := m.db.t.guestSeq
	sort.Slice(gs, func(i, j int) bool {
		if !gs[i].CreatedAt.Equal(gs[j].CreatedAt) {
			return gs[i].CreatedAt.Before(gs[j].CreatedAt)
		}
		return seq[gs[i].ID] < seq[gs[j].ID]
	})
}
