package agent

//go:generate mockgen -destination=mocks/mock_reasoner.go -package=mocks guest-messaging/internal/agent Reasoner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guest-messaging/internal/models"
	"guest-messaging/internal/tools"
)

// MaxTimeout bounds one reasoning call.
const MaxTimeout = 3 * time.Minute

// Context is everything the agent sees for one reply.
type Context struct {
	Organization models.Organization
	Event        models.Event
	// Guest is nil when the phone matches no guest.
	Guest   *models.Guest
	Party   []models.Guest
	History []models.ChatLog
	Pending []models.InboundMessage
	Tools   []tools.Definition
}

// Response is the raw agent output. ToolCalls are untrusted.
type Response struct {
	Reply     string
	ToolCalls []tools.Call
}

// Reasoner is the reasoning model behind the agent.
type Reasoner interface {
	Invoke(ctx context.Context, in Context) (Response, error)
}

// Step is one requested tool call after validation. Invocation is nil when
// Err explains why the call was rejected.
type Step struct {
	Call       tools.Call
	Invocation tools.Invocation
	Err        error
}

// Plan is the validated agent output, in the order the agent asked.
type Plan struct {
	Reply string
	Steps []Step
}

// Rejected reports whether any call failed validation.
func (p Plan) Rejected() bool {
	for _, s := range p.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Invoker wraps a Reasoner with a deadline and whitelist validation.
type Invoker struct {
	reasoner Reasoner
	timeout  time.Duration
}

func NewInvoker(r Reasoner, timeout time.Duration) *Invoker {
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	return &Invoker{reasoner: r, timeout: timeout}
}

// Invoke asks the reasoner for a reply and validates each tool call against
// the whitelist. A rejected call never reaches the executor.
func (i *Invoker) Invoke(ctx context.Context, in Context) (Plan, error) {
	if len(in.Pending) == 0 {
		return Plan{}, errors.New("agent: nothing to answer")
	}
	if in.Tools == nil {
		in.Tools = tools.Definitions()
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	resp, err := i.reasoner.Invoke(ctx, in)
	if err != nil {
		return Plan{}, fmt.Errorf("agent: invoke: %w", err)
	}

	plan := Plan{Reply: resp.Reply, Steps: make([]Step, 0, len(resp.ToolCalls))}
	for _, c := range resp.ToolCalls {
		inv, err := tools.Parse(c)
		plan.Steps = append(plan.Steps, Step{Call: c, Invocation: inv, Err: err})
	}
	return plan, nil
}
