package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guest-messaging/internal/agent"
	"guest-messaging/internal/chatlog"
	"guest-messaging/internal/delivery"
	"guest-messaging/internal/guests"
	"guest-messaging/internal/lock"
	"guest-messaging/internal/messaging"
	"guest-messaging/internal/models"
	"guest-messaging/internal/queue"
	"guest-messaging/internal/store"
	"guest-messaging/internal/tools"
	"guest-messaging/pkg/logger"
	"guest-messaging/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ErrDeferred means the reply could not start now and should be redelivered.
// It wraps queue.ErrRetry so the consumer does not count it as a failure.
var ErrDeferred = fmt.Errorf("chat: reply deferred: %w", queue.ErrRetry)

// ErrSessionBusy is returned to the queue when another worker holds the
// session. The job stays pending: if that run fails, this delivery is what
// brings the messages back.
var ErrSessionBusy = fmt.Errorf("chat: session busy: %w", queue.ErrRetry)

type Outcome string

const (
	OutcomeReplied       Outcome = "replied"
	OutcomeSendFailed    Outcome = "send_failed"
	OutcomeSkippedLocked Outcome = "skipped_locked"
	OutcomeNothingToDo   Outcome = "nothing_to_do"
)

type Reply struct {
	Outcome  Outcome
	Log      models.ChatLog
	Delivery *models.MessageDelivery
}

type DispatcherConfig struct {
	// LockTTL must exceed the agent timeout; the lease is also refreshed
	// while the reply runs.
	LockTTL             time.Duration
	MaxConcurrentPerOrg int
	HistoryTurns        int
	StatusCallbackURL   string
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.LockTTL <= 0 {
		c.LockTTL = 4 * time.Minute
	}
	if c.MaxConcurrentPerOrg <= 0 {
		c.MaxConcurrentPerOrg = 4
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 10
	}
	return c
}

type Dispatcher struct {
	store   store.Store
	locks   *lock.Service
	caps    redis.Scripter
	invoker *agent.Invoker
	exec    *tools.Executor
	logs    *chatlog.Service
	sender  messaging.Sender
	tracker *delivery.Tracker
	jobs    Enqueuer
	cfg     DispatcherConfig
	clock   func() time.Time
}

type DispatcherDeps struct {
	Store    store.Store
	Locks    *lock.Service
	Caps     redis.Scripter
	Invoker  *agent.Invoker
	Executor *tools.Executor
	Logs     *chatlog.Service
	Sender   messaging.Sender
	Tracker  *delivery.Tracker
	// Jobs is optional; when set, messages that arrive during a reply get a
	// follow-up job.
	Jobs Enqueuer
}

func NewDispatcher(d DispatcherDeps, cfg DispatcherConfig) (*Dispatcher, error) {
	if d.Store == nil || d.Locks == nil || d.Caps == nil || d.Invoker == nil ||
		d.Executor == nil || d.Logs == nil || d.Sender == nil || d.Tracker == nil {
		return nil, errors.New("chat: dispatcher dependency missing")
	}
	return &Dispatcher{
		store:   d.Store,
		locks:   d.Locks,
		caps:    d.Caps,
		invoker: d.Invoker,
		exec:    d.Executor,
		logs:    d.Logs,
		sender:  d.Sender,
		tracker: d.Tracker,
		jobs:    d.Jobs,
		cfg:     cfg.withDefaults(),
		clock:   time.Now,
	}, nil
}

// HandleJob adapts ReplyToSession to the queue consumer.
func (d *Dispatcher) HandleJob(ctx context.Context, job queue.Job) error {
	var p ReplyJob
	if err := job.Decode(&p); err != nil {
		return err
	}
	res, err := d.ReplyToSession(ctx, p.SessionID, p.OrganizationID)
	if err != nil {
		return err
	}
	if res.Outcome == OutcomeSkippedLocked {
		return ErrSessionBusy
	}
	return nil
}

// ReplyToSession answers everything the guest sent since the last reply.
// At most one reply runs per session: when the session lock is held
// elsewhere it returns OutcomeSkippedLocked without side effects.
func (d *Dispatcher) ReplyToSession(ctx context.Context, sessionID, organizationID string) (Reply, error) {
	if sessionID == "" || organizationID == "" {
		return Reply{}, errors.New("chat: session and organization are required")
	}
	ctx, log := logger.WithAttrs(ctx, "session_id", sessionID, "organization_id", organizationID)

	res, acquired, err := lock.WithLock(ctx, d.locks, "session:"+sessionID, d.cfg.LockTTL, func(ctx context.Context) (Reply, error) {
		var out Reply
		ran, err := utils.WithConcurrencyCap(ctx, d.caps, "chat:running:"+organizationID, d.cfg.MaxConcurrentPerOrg, d.cfg.LockTTL,
			func(ctx context.Context) error {
				var err error
				out, err = d.reply(ctx, sessionID, organizationID)
				return err
			})
		if err != nil {
			return out, err
		}
		if !ran {
			return out, ErrDeferred
		}
		return out, nil
	})
	if err != nil {
		if !acquired {
			// Lock store unavailable: nothing was touched.
			return Reply{}, fmt.Errorf("%w: %v", ErrDeferred, err)
		}
		return res, err
	}
	if !acquired {
		log.Info("session busy, reply skipped")
		return Reply{Outcome: OutcomeSkippedLocked}, nil
	}
	if res.Outcome == OutcomeReplied || res.Outcome == OutcomeSendFailed {
		// After release, so the follow-up job cannot be skipped as locked.
		d.followUp(ctx, sessionID, organizationID)
	}
	return res, nil
}

func (d *Dispatcher) reply(ctx context.Context, sessionID, organizationID string) (Reply, error) {
	log := logger.From(ctx)

	sess, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: load session: %w", err)
	}
	if sess.OrganizationID != organizationID {
		return Reply{}, fmt.Errorf("chat: load session: %w", store.ErrNotFound)
	}

	// Re-read at run time: messages keep arriving while earlier replies run.
	pending, err := d.store.ListUnprocessedMessages(ctx, sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: load pending: %w", err)
	}
	if len(pending) == 0 {
		return Reply{Outcome: OutcomeNothingToDo}, nil
	}

	org, err := d.store.GetOrganization(ctx, organizationID)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: load organization: %w", err)
	}
	in, err := d.agentContext(ctx, sess, org, pending)
	if err != nil {
		return Reply{}, err
	}

	plan, err := d.invoker.Invoke(ctx, in)
	if err != nil {
		return Reply{}, err
	}

	calls, executed, failed := d.execute(ctx, sess, in.Guest, plan)
	body := composeReply(in.Guest, plan.Reply, executed, failed)

	entry := models.ChatLog{
		SessionID:      sessionID,
		OrganizationID: organizationID,
		Inbound:        agent.PendingText(pending),
		Reply:          body,
		ToolCalls:      calls,
	}
	ids := make([]string, len(pending))
	for i, m := range pending {
		ids[i] = m.ID
	}
	err = d.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		if entry, err = d.logs.In(tx).Append(ctx, entry); err != nil {
			return err
		}
		return tx.MarkMessagesProcessed(ctx, ids, d.clock().UTC())
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat: record exchange: %w", err)
	}

	out := Reply{Outcome: OutcomeReplied, Log: entry}
	res, err := d.sender.Send(ctx, messaging.OutboundMessage{
		To:             sess.Phone,
		From:           org.WhatsAppNumber,
		Body:           body,
		StatusCallback: d.cfg.StatusCallbackURL,
	})
	if err != nil {
		// Not retried: the exchange is recorded and a redelivery would find
		// nothing pending.
		log.Error("reply send failed", "chat_log_id", entry.ID, "err", err)
		out.Outcome = OutcomeSendFailed
	} else {
		dl, err := d.tracker.Begin(ctx, delivery.Origin{
			OrganizationID: organizationID,
			SessionID:      sessionID,
			GuestID:        sess.GuestID,
		}, res)
		if err != nil {
			log.Error("delivery tracking failed", "message_sid", res.ExternalID, "err", err)
		} else {
			out.Delivery = &dl
		}
	}

	log.Info("session replied", "outcome", out.Outcome, "messages", len(pending), "tool_calls", len(calls), "failed", failed)
	return out, nil
}

func (d *Dispatcher) agentContext(ctx context.Context, sess models.ChatSession, org models.Organization, pending []models.InboundMessage) (agent.Context, error) {
	in := agent.Context{Organization: org, Pending: pending, Tools: tools.Definitions()}

	if sess.EventID != "" {
		ev, err := d.store.GetEvent(ctx, org.ID, sess.EventID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return agent.Context{}, fmt.Errorf("chat: load event: %w", err)
		}
		in.Event = ev
	}
	if sess.GuestID != "" && sess.EventID != "" {
		g, err := d.store.GetGuest(ctx, sess.EventID, sess.GuestID)
		switch {
		case err == nil:
			in.Guest = &g
		case !errors.Is(err, store.ErrNotFound):
			return agent.Context{}, fmt.Errorf("chat: load guest: %w", err)
		}
	}
	if in.Guest != nil && in.Guest.GroupID != "" {
		party, err := d.store.ListGroupMembers(ctx, in.Guest.GroupID)
		if err != nil {
			return agent.Context{}, fmt.Errorf("chat: load party: %w", err)
		}
		in.Party = party
	}

	history, err := d.logs.Recent(ctx, sess.ID, d.cfg.HistoryTurns)
	if err != nil {
		return agent.Context{}, fmt.Errorf("chat: load history: %w", err)
	}
	in.History = history
	return in, nil
}

// execute runs the plan's calls in order and stops at the first failure.
// Calls already applied stay applied.
func (d *Dispatcher) execute(ctx context.Context, sess models.ChatSession, guest *models.Guest, plan agent.Plan) (calls []models.ToolCall, executed int, failed bool) {
	log := logger.From(ctx)
	target := tools.Target{
		Scope:   guests.Scope{OrganizationID: sess.OrganizationID, EventID: sess.EventID},
		GuestID: sess.GuestID,
	}

	for _, step := range plan.Steps {
		call := models.ToolCall{Name: step.Call.Name, Input: step.Call.Input}
		err := step.Err
		if err == nil && guest == nil {
			err = errors.New("no guest is linked to this conversation")
		}
		if err == nil {
			var result string
			result, err = d.exec.Execute(ctx, target, step.Invocation)
			call.Result = result
		}
		if err != nil {
			call.Failed = true
			call.Result = failureResult(err)
			log.Warn("tool call failed", "tool", step.Call.Name, "err", err)
			calls = append(calls, call)
			return calls, executed, true
		}
		executed++
		calls = append(calls, call)
	}
	return calls, executed, false
}

func failureResult(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "failed: guest not found in this event"
	case errors.Is(err, guests.ErrGroupHasMembers):
		return "failed: guest leads a party with other members"
	default:
		return "failed: " + err.Error()
	}
}

func (d *Dispatcher) followUp(ctx context.Context, sessionID, organizationID string) {
	if d.jobs == nil {
		return
	}
	left, err := d.store.ListUnprocessedMessages(ctx, sessionID)
	if err != nil || len(left) == 0 {
		return
	}
	if _, err := d.jobs.Enqueue(ctx, JobReply, ReplyJob{SessionID: sessionID, OrganizationID: organizationID}); err != nil {
		logger.From(ctx).Warn("follow-up enqueue failed", "err", err)
	}
}
