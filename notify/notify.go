// Package notify delivers best-effort contract notifications. Failures never
// propagate as errors; they come back as warning keys.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"escrowflow/logging"
)

// Event types.
const (
	TypeContractCreated  = "contract.created"
	TypeContractUpdated  = "contract.updated"
	TypeStatusChanged    = "contract.status_changed"
	TypeActiveToggled    = "contract.active_toggled"
	TypeDisputeRaised    = "dispute.raised"
	TypeDisputeUpdated   = "dispute.updated"
	TypeMilestoneChanged = "contract.milestones_changed"
)

// Event addresses the parties of one contract.
type Event struct {
	Type       string         `json:"type"`
	ContractID int64          `json:"contractId"`
	CreatorID  int64          `json:"creatorId"`
	BuyerID    *int64         `json:"buyerId,omitempty"`
	SellerID   *int64         `json:"sellerId,omitempty"`
	Role       string         `json:"role"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data,omitempty"`
}

// Recipients returns the distinct non-zero party ids.
func (e Event) Recipients() []int64 {
	seen := map[int64]bool{}
	out := make([]int64, 0, 3)
	for _, id := range []int64{e.CreatorID, deref(e.BuyerID), deref(e.SellerID)} {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Sink is one delivery channel. Warning is the key reported when Send fails.
type Sink interface {
	Warning() string
	Send(ctx context.Context, ev Event) error
}

// Localizer resolves push titles and bodies.
type Localizer interface {
	Get(key, lang string) string
}

type Dispatcher struct {
	sinks    []Sink
	log      *logging.Logger
	timeout  time.Duration
	messages Localizer
	lang     string
}

func NewDispatcher(log *logging.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = logging.Nop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{sinks: sinks, log: log, timeout: timeout, lang: "en"}
}

// WithMessages fills empty titles and bodies from "push.<type>.title" and
// "push.<type>.body" in lang.
func (d *Dispatcher) WithMessages(m Localizer, lang string) *Dispatcher {
	d.messages = m
	if lang != "" {
		d.lang = lang
	}
	return d
}

// Notify fans ev out to every sink and waits for them. It returns one warning
// key per failed sink, in sink order.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) []string {
	if d == nil || len(d.sinks) == 0 {
		return nil
	}
	if d.messages != nil {
		if ev.Title == "" {
			ev.Title = d.messages.Get("push."+ev.Type+".title", d.lang)
		}
		if ev.Body == "" {
			ev.Body = d.messages.Get("push."+ev.Type+".body", d.lang)
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		failed = make([]bool, len(d.sinks))
		g      errgroup.Group
	)
	for i, sink := range d.sinks {
		g.Go(func() error {
			if err := sink.Send(ctx, ev); err != nil {
				d.log.Warn("notification failed", "type", ev.Type, "contract_id", ev.ContractID, "sink", sink.Warning(), "error", err)
				mu.Lock()
				failed[i] = true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var warnings []string
	for i, f := range failed {
		if f {
			warnings = append(warnings, d.sinks[i].Warning())
		}
	}
	return warnings
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
