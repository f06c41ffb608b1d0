package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"guest-messaging/internal/models"
	"guest-messaging/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

const pgUniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres implements Store with database/sql over the pgx stdlib driver.
// The *sql.DB must be opened with driver name "pgx".
type Postgres struct {
	db *sql.DB
	q  querier
	tx bool
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

// EnsureSchema creates missing tables and indexes. It is safe to run on every boot.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.q.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) WithTx(ctx context.Context, fn TxFunc) error {
	if p.tx {
		return fn(ctx, p)
	}
	return utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &Postgres{db: p.db, q: tx, tx: true})
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

/* ===================== ORGANIZATIONS / EVENTS ===================== */

func (p *Postgres) FindOrganizationByNumber(ctx context.Context, number string) (models.Organization, error) {
	const q = `
SELECT id, name, whatsapp_number, created_at
FROM organizations
WHERE whatsapp_number = $1
`
	var o models.Organization
	if err := p.q.QueryRowContext(ctx, q, number).Scan(&o.ID, &o.Name, &o.WhatsAppNumber, &o.CreatedAt); err != nil {
		return models.Organization{}, notFound(err)
	}
	return o, nil
}

func (p *Postgres) GetOrganization(ctx context.Context, organizationID string) (models.Organization, error) {
	const q = `
SELECT id, name, whatsapp_number, created_at
FROM organizations
WHERE id = $1
`
	var o models.Organization
	if err := p.q.QueryRowContext(ctx, q, organizationID).Scan(&o.ID, &o.Name, &o.WhatsAppNumber, &o.CreatedAt); err != nil {
		return models.Organization{}, notFound(err)
	}
	return o, nil
}

func (p *Postgres) GetEvent(ctx context.Context, organizationID, eventID string) (models.Event, error) {
	const q = `
SELECT id, organization_id, name, location, starts_at, created_at
FROM events
WHERE organization_id = $1 AND id = $2
`
	var e models.Event
	if err := p.q.QueryRowContext(ctx, q, organizationID, eventID).Scan(
		&e.ID, &e.OrganizationID, &e.Name, &e.Location, &e.StartsAt, &e.CreatedAt,
	); err != nil {
		return models.Event{}, notFound(err)
	}
	return e, nil
}

/* ===================== GUESTS ===================== */

const guestColumns = `id, organization_id, event_id, name, phone, status, priority, language, category,
       table_number, dietary_restrictions, number_of_guests, has_multiple_guests, is_primary_guest,
       group_id, dedupe_key, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuest(r rowScanner) (models.Guest, error) {
	var g models.Guest
	var groupID sql.NullString
	err := r.Scan(
		&g.ID,
		&g.OrganizationID,
		&g.EventID,
		&g.Name,
		&g.Phone,
		&g.Status,
		&g.Priority,
		&g.Language,
		&g.Category,
		&g.TableNumber,
		&g.DietaryRestrictions,
		&g.NumberOfGuests,
		&g.HasMultipleGuests,
		&g.IsPrimaryGuest,
		&groupID,
		&g.DedupeKey,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	g.GroupID = groupID.String
	return g, err
}

func guestArgs(g models.Guest) []any {
	return []any{
		g.ID,
		g.OrganizationID,
		g.EventID,
		g.Name,
		g.Phone,
		g.Status,
		g.Priority,
		g.Language,
		g.Category,
		g.TableNumber,
		g.DietaryRestrictions,
		g.NumberOfGuests,
		g.HasMultipleGuests,
		g.IsPrimaryGuest,
		nullString(g.GroupID),
		g.DedupeKey,
		g.CreatedAt,
		g.UpdatedAt,
	}
}

func (p *Postgres) GetGuest(ctx context.Context, eventID, guestID string) (models.Guest, error) {
	q := `SELECT ` + guestColumns + ` FROM guests WHERE event_id = $1 AND id = $2`
	g, err := scanGuest(p.q.QueryRowContext(ctx, q, eventID, guestID))
	if err != nil {
		return models.Guest{}, notFound(err)
	}
	return g, nil
}

func (p *Postgres) FindGuestByPhone(ctx context.Context, organizationID, phone string) (models.Guest, error) {
	q := `SELECT ` + guestColumns + `
FROM guests
WHERE organization_id = $1 AND phone = $2 AND phone <> ''
ORDER BY created_at DESC, seq DESC
LIMIT 1`
	g, err := scanGuest(p.q.QueryRowContext(ctx, q, organizationID, phone))
	if err != nil {
		return models.Guest{}, notFound(err)
	}
	return g, nil
}

func (p *Postgres) ListGroupMembers(ctx context.Context, groupID string) ([]models.Guest, error) {
	q := `SELECT ` + guestColumns + ` FROM guests WHERE group_id = $1 ORDER BY created_at, seq`
	rows, err := p.q.QueryContext(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Guest, 0)
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) CountGuests(ctx context.Context, eventID string) (int, error) {
	var n int
	err := p.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM guests WHERE event_id = $1`, eventID).Scan(&n)
	return n, err
}

func (p *Postgres) CreateGuest(ctx context.Context, g models.Guest) error {
	q := `INSERT INTO guests (` + guestColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`
	if _, err := p.q.ExecContext(ctx, q, guestArgs(g)...); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

const guestArgCount = 18

func (p *Postgres) InsertGuestsSkipDuplicates(ctx context.Context, gs []models.Guest) ([]string, error) {
	if len(gs) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO guests (` + guestColumns + `) VALUES `)
	args := make([]any, 0, len(gs)*guestArgCount)
	for i, g := range gs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for j := 0; j < guestArgCount; j++ {
			if j > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", i*guestArgCount+j+1)
		}
		b.WriteString(")")
		args = append(args, guestArgs(g)...)
	}
	b.WriteString(` ON CONFLICT DO NOTHING RETURNING id`)

	rows, err := p.q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	inserted := make([]string, 0, len(gs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		inserted = append(inserted, id)
	}
	return inserted, rows.Err()
}

func (p *Postgres) UpdateGuest(ctx context.Context, g models.Guest) error {
	const q = `
UPDATE guests SET
  name = $3, phone = $4, status = $5, priority = $6, language = $7, category = $8,
  table_number = $9, dietary_restrictions = $10, number_of_guests = $11,
  has_multiple_guests = $12, is_primary_guest = $13, group_id = $14, updated_at = $15
WHERE event_id = $1 AND id = $2
`
	res, err := p.q.ExecContext(ctx, q,
		g.EventID,
		g.ID,
		g.Name,
		g.Phone,
		g.Status,
		g.Priority,
		g.Language,
		g.Category,
		g.TableNumber,
		g.DietaryRestrictions,
		g.NumberOfGuests,
		g.HasMultipleGuests,
		g.IsPrimaryGuest,
		nullString(g.GroupID),
		g.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (p *Postgres) DeleteGuest(ctx context.Context, eventID, guestID string) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM guests WHERE event_id = $1 AND id = $2`, eventID, guestID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

/* ===================== GROUPS ===================== */

func (p *Postgres) CreateGroup(ctx context.Context, g models.GuestGroup) error {
	const q = `INSERT INTO guest_groups (id, event_id, lead_guest_id, created_at) VALUES ($1,$2,$3,$4)`
	if _, err := p.q.ExecContext(ctx, q, g.ID, g.EventID, g.LeadGuestID, g.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (p *Postgres) GetGroup(ctx context.Context, eventID, groupID string) (models.GuestGroup, error) {
	const q = `SELECT id, event_id, lead_guest_id, created_at FROM guest_groups WHERE event_id = $1 AND id = $2`
	var g models.GuestGroup
	if err := p.q.QueryRowContext(ctx, q, eventID, groupID).Scan(&g.ID, &g.EventID, &g.LeadGuestID, &g.CreatedAt); err != nil {
		return models.GuestGroup{}, notFound(err)
	}
	return g, nil
}

func (p *Postgres) DeleteGroup(ctx context.Context, eventID, groupID string) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM guest_groups WHERE event_id = $1 AND id = $2`, eventID, groupID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

/* ===================== SESSIONS ===================== */

const sessionColumns = `id, organization_id, phone, guest_id, event_id, is_active, last_message_at, created_at`

func scanSession(r rowScanner) (models.ChatSession, error) {
	var s models.ChatSession
	err := r.Scan(&s.ID, &s.OrganizationID, &s.Phone, &s.GuestID, &s.EventID, &s.IsActive, &s.LastMessageAt, &s.CreatedAt)
	return s, err
}

func (p *Postgres) FindSession(ctx context.Context, organizationID, phone string) (models.ChatSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE organization_id = $1 AND phone = $2`
	s, err := scanSession(p.q.QueryRowContext(ctx, q, organizationID, phone))
	if err != nil {
		return models.ChatSession{}, notFound(err)
	}
	return s, nil
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (models.ChatSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = $1`
	s, err := scanSession(p.q.QueryRowContext(ctx, q, sessionID))
	if err != nil {
		return models.ChatSession{}, notFound(err)
	}
	return s, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s models.ChatSession) error {
	q := `INSERT INTO chat_sessions (` + sessionColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := p.q.ExecContext(ctx, q, s.ID, s.OrganizationID, s.Phone, s.GuestID, s.EventID, s.IsActive, s.LastMessageAt, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (p *Postgres) UpdateSession(ctx context.Context, s models.ChatSession) error {
	const q = `
UPDATE chat_sessions SET guest_id = $2, event_id = $3, is_active = $4, last_message_at = $5
WHERE id = $1
`
	res, err := p.q.ExecContext(ctx, q, s.ID, s.GuestID, s.EventID, s.IsActive, s.LastMessageAt)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (p *Postgres) DeactivateIdleSessions(ctx context.Context, lastMessageBefore time.Time) (int, error) {
	res, err := p.q.ExecContext(ctx,
		`UPDATE chat_sessions SET is_active = FALSE WHERE is_active AND last_message_at < $1`,
		lastMessageBefore,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

/* ===================== INBOUND MESSAGES ===================== */

func (p *Postgres) AppendInboundMessage(ctx context.Context, m models.InboundMessage) error {
	media, err := json.Marshal(m.Media)
	if err != nil {
		return err
	}
	if m.Media == nil {
		media = []byte("[]")
	}
	const q = `
INSERT INTO inbound_messages (id, session_id, organization_id, provider_message_id, kind, body, media, received_at, processed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err = p.q.ExecContext(ctx, q,
		m.ID,
		m.SessionID,
		m.OrganizationID,
		nullString(m.ProviderMessageID),
		m.Kind,
		m.Body,
		media,
		m.ReceivedAt,
		nullTime(m.ProcessedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (p *Postgres) ListUnprocessedMessages(ctx context.Context, sessionID string) ([]models.InboundMessage, error) {
	const q = `
SELECT id, session_id, organization_id, provider_message_id, kind, body, media, received_at
FROM inbound_messages
WHERE session_id = $1 AND processed_at IS NULL
ORDER BY received_at
`
	rows, err := p.q.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.InboundMessage, 0)
	for rows.Next() {
		var m models.InboundMessage
		var providerID sql.NullString
		var media []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.OrganizationID, &providerID, &m.Kind, &m.Body, &media, &m.ReceivedAt); err != nil {
			return nil, err
		}
		m.ProviderMessageID = providerID.String
		if len(media) > 0 {
			if err := json.Unmarshal(media, &m.Media); err != nil {
				return nil, fmt.Errorf("store: decode media for message %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkMessagesProcessed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.q.ExecContext(ctx,
		`UPDATE inbound_messages SET processed_at = $1 WHERE id = ANY($2) AND processed_at IS NULL`,
		at, ids,
	)
	return err
}

/* ===================== CHAT LOGS ===================== */

func (p *Postgres) AppendChatLog(ctx context.Context, l models.ChatLog) error {
	calls, err := json.Marshal(l.ToolCalls)
	if err != nil {
		return err
	}
	if l.ToolCalls == nil {
		calls = []byte("[]")
	}
	const q = `
INSERT INTO chat_logs (id, session_id, organization_id, inbound, reply, tool_calls, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err = p.q.ExecContext(ctx, q, l.ID, l.SessionID, l.OrganizationID, l.Inbound, l.Reply, calls, l.CreatedAt)
	return err
}

func (p *Postgres) ListChatLogs(ctx context.Context, sessionID string, limit int) ([]models.ChatLog, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, session_id, organization_id, inbound, reply, tool_calls, created_at FROM (
  SELECT id, session_id, organization_id, inbound, reply, tool_calls, created_at, seq
  FROM chat_logs
  WHERE session_id = $1
  ORDER BY seq DESC
  LIMIT $2
) recent
ORDER BY seq
`
	rows, err := p.q.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ChatLog, 0)
	for rows.Next() {
		var l models.ChatLog
		var calls []byte
		if err := rows.Scan(&l.ID, &l.SessionID, &l.OrganizationID, &l.Inbound, &l.Reply, &calls, &l.CreatedAt); err != nil {
			return nil, err
		}
		if len(calls) > 0 {
			if err := json.Unmarshal(calls, &l.ToolCalls); err != nil {
				return nil, fmt.Errorf("store: decode tool calls for log %s: %w", l.ID, err)
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

/* ===================== DELIVERIES ===================== */

const deliveryColumns = `id, organization_id, session_id, guest_id, message_sid, status,
       sent_at, delivered_at, read_at, failed_at, error_message, created_at, updated_at`

func scanDelivery(r rowScanner) (models.MessageDelivery, error) {
	var d models.MessageDelivery
	var sent, delivered, read, failed sql.NullTime
	err := r.Scan(
		&d.ID,
		&d.OrganizationID,
		&d.SessionID,
		&d.GuestID,
		&d.MessageSid,
		&d.Status,
		&sent,
		&delivered,
		&read,
		&failed,
		&d.ErrorMessage,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	d.SentAt = timePtr(sent)
	d.DeliveredAt = timePtr(delivered)
	d.ReadAt = timePtr(read)
	d.FailedAt = timePtr(failed)
	return d, err
}

func (p *Postgres) CreateDelivery(ctx context.Context, d models.MessageDelivery) error {
	q := `INSERT INTO message_deliveries (` + deliveryColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := p.q.ExecContext(ctx, q,
		d.ID,
		d.OrganizationID,
		d.SessionID,
		d.GuestID,
		d.MessageSid,
		d.Status,
		nullTime(d.SentAt),
		nullTime(d.DeliveredAt),
		nullTime(d.ReadAt),
		nullTime(d.FailedAt),
		d.ErrorMessage,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (p *Postgres) GetDeliveryForUpdate(ctx context.Context, messageSid string) (models.MessageDelivery, error) {
	q := `SELECT ` + deliveryColumns + ` FROM message_deliveries WHERE message_sid = $1`
	if p.tx {
		q += ` FOR UPDATE`
	}
	d, err := scanDelivery(p.q.QueryRowContext(ctx, q, messageSid))
	if err != nil {
		return models.MessageDelivery{}, notFound(err)
	}
	return d, nil
}

func (p *Postgres) UpdateDelivery(ctx context.Context, d models.MessageDelivery) error {
	const q = `
UPDATE message_deliveries SET
  status = $2, sent_at = $3, delivered_at = $4, read_at = $5, failed_at = $6,
  error_message = $7, updated_at = $8
WHERE message_sid = $1
`
	res, err := p.q.ExecContext(ctx, q,
		d.MessageSid,
		d.Status,
		nullTime(d.SentAt),
		nullTime(d.DeliveredAt),
		nullTime(d.ReadAt),
		nullTime(d.FailedAt),
		d.ErrorMessage,
		d.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (p *Postgres) ListDeliveries(ctx context.Context, organizationID string, from, to time.Time) ([]models.MessageDelivery, error) {
	q := `SELECT ` + deliveryColumns + `
FROM message_deliveries
WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at`
	rows, err := p.q.QueryContext(ctx, q, organizationID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.MessageDelivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

/* ===================== USAGE ===================== */

func (p *Postgres) InsertUsageEvent(ctx context.Context, e models.UsageEvent) (bool, error) {
	const q = `
INSERT INTO usage_events (id, organization_id, period, message_sid, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (message_sid) DO NOTHING
`
	res, err := p.q.ExecContext(ctx, q, e.ID, e.OrganizationID, e.Period, e.MessageSid, e.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) IncrementUsage(ctx context.Context, organizationID, period string, delta int64, at time.Time) (models.UsageCounter, error) {
	const q = `
INSERT INTO usage_counters (organization_id, period, messages_count, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (organization_id, period)
DO UPDATE SET messages_count = usage_counters.messages_count + EXCLUDED.messages_count,
              updated_at = EXCLUDED.updated_at
RETURNING organization_id, period, messages_count, updated_at
`
	var c models.UsageCounter
	if err := p.q.QueryRowContext(ctx, q, organizationID, period, delta, at).Scan(
		&c.OrganizationID, &c.Period, &c.MessagesCount, &c.UpdatedAt,
	); err != nil {
		return models.UsageCounter{}, err
	}
	return c, nil
}

func (p *Postgres) GetUsage(ctx context.Context, organizationID, period string) (models.UsageCounter, error) {
	const q = `
SELECT organization_id, period, messages_count, updated_at
FROM usage_counters
WHERE organization_id = $1 AND period = $2
`
	var c models.UsageCounter
	if err := p.q.QueryRowContext(ctx, q, organizationID, period).Scan(
		&c.OrganizationID, &c.Period, &c.MessagesCount, &c.UpdatedAt,
	); err != nil {
		return models.UsageCounter{}, notFound(err)
	}
	return c, nil
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
