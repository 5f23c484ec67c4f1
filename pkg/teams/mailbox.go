package teams

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/opencode-teams/coordinator/pkg/store"
	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// MessageKind enumerates the inbox message types.
type MessageKind string

const (
	MessageDirect           MessageKind = "message"
	MessageBroadcast        MessageKind = "broadcast"
	MessageShutdownRequest  MessageKind = "shutdown_request"
	MessageShutdownApproved MessageKind = "shutdown_approved"
	MessagePlanApproved     MessageKind = "plan_approved"
	MessagePlanRejected     MessageKind = "plan_rejected"
)

// InboxMessage is a single entry in an agent's inbox file.
type InboxMessage struct {
	ID          string      `json:"id"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Type        MessageKind `json:"type"`
	Content     string      `json:"content"`
	Summary     string      `json:"summary,omitempty"`
	Color       string      `json:"color"`
	TimestampMs int64       `json:"timestampMs"`
	ReadAtMs    *int64      `json:"readAtMs,omitempty"`
}

// pollStep bounds how often Poll rechecks for new mail between fsnotify
// wakeups.
const pollStep = 500 * time.Millisecond

// MaxPollTimeoutMs is the upper bound on a single Poll call.
const MaxPollTimeoutMs = 30000

// Inbox implements per-agent mail delivery: append, read, and long-poll.
// Appends and marking reads are serialized through the team-wide inboxes
// lock; a read that does not mark is an unlocked snapshot.
type Inbox struct {
	store *store.Store
	clock Clock
}

// NewInbox creates an Inbox backed by s.
func NewInbox(s *store.Store, clock Clock) *Inbox {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Inbox{store: s, clock: clock}
}

// Create writes an empty inbox file for agent, used at team/teammate
// creation time.
func (ib *Inbox) Create(team, agent string) error {
	return ib.store.WriteJSON(ib.store.InboxPath(team, agent), []InboxMessage{})
}

// Delete removes agent's inbox file (force_kill_teammate cleanup).
func (ib *Inbox) Delete(team, agent string) error {
	var outcome error
	err := ib.store.WithLock(ib.store.InboxesLockPath(team), func() error {
		path := ib.store.InboxPath(team, agent)
		if rmErr := removeIfExists(path); rmErr != nil {
			outcome = teamerrors.Wrap(teamerrors.Storage, "delete inbox", rmErr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}

// Send appends a single direct or system message to recipient's inbox,
// assigning a fresh message id and timestamp.
func (ib *Inbox) Send(team, from, to string, kind MessageKind, color, content, summary string) (*InboxMessage, error) {
	msg := InboxMessage{
		ID:          uuid.NewString(),
		From:        from,
		To:          to,
		Type:        kind,
		Content:     content,
		Summary:     summary,
		Color:       color,
		TimestampMs: ib.clock.NowMs(),
	}
	if err := ib.append(team, to, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Broadcast appends the same message to every recipient's inbox.
func (ib *Inbox) Broadcast(team, from, color, content, summary string, recipients []string) error {
	for _, to := range recipients {
		if to == from {
			continue
		}
		if _, err := ib.Send(team, from, to, MessageBroadcast, color, content, summary); err != nil {
			return err
		}
	}
	return nil
}

func (ib *Inbox) append(team, to string, msg InboxMessage) error {
	var outcome error
	err := ib.store.WithLock(ib.store.InboxesLockPath(team), func() error {
		path := ib.store.InboxPath(team, to)
		var messages []InboxMessage
		if err := ib.store.ReadJSON(path, &messages); err != nil {
			if !teamerrors.Is(err, teamerrors.NotFound) {
				outcome = err
				return nil
			}
			messages = nil
		}
		messages = append(messages, msg)
		outcome = ib.store.WriteJSON(path, messages)
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}

// Read returns agent's unread messages. When markAsRead is true, every
// returned message is stamped with the current time and persisted before
// this call returns.
func (ib *Inbox) Read(team, agent string, markAsRead bool) ([]InboxMessage, error) {
	if !markAsRead {
		var messages []InboxMessage
		if err := ib.store.ReadJSON(ib.store.InboxPath(team, agent), &messages); err != nil {
			if teamerrors.Is(err, teamerrors.NotFound) {
				return nil, nil
			}
			return nil, err
		}
		return unreadOf(messages), nil
	}

	var (
		unread  []InboxMessage
		outcome error
	)
	err := ib.store.WithLock(ib.store.InboxesLockPath(team), func() error {
		path := ib.store.InboxPath(team, agent)
		var messages []InboxMessage
		if err := ib.store.ReadJSON(path, &messages); err != nil {
			if teamerrors.Is(err, teamerrors.NotFound) {
				return nil
			}
			outcome = err
			return nil
		}
		now := ib.clock.NowMs()
		for i := range messages {
			if messages[i].ReadAtMs == nil {
				ts := now
				messages[i].ReadAtMs = &ts
				unread = append(unread, messages[i])
			}
		}
		if len(unread) > 0 {
			outcome = ib.store.WriteJSON(path, messages)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unread, outcome
}

// Poll blocks until agent has unread mail, ctx is cancelled, or timeoutMs
// elapses (clamped to MaxPollTimeoutMs), rechecking every pollStep and
// waking early on any fsnotify event in the team's inboxes directory as a
// best-effort optimization over the bounded recheck loop.
func (ib *Inbox) Poll(ctx context.Context, team, agent string, timeoutMs int) ([]InboxMessage, error) {
	if timeoutMs > MaxPollTimeoutMs {
		timeoutMs = MaxPollTimeoutMs
	}
	if timeoutMs < 0 {
		timeoutMs = 0
	}

	if msgs, err := ib.Read(team, agent, true); err != nil {
		return nil, err
	} else if len(msgs) > 0 {
		return msgs, nil
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		_ = watcher.Add(ib.store.InboxesDir(team))
	}

	ticker := time.NewTicker(pollStep)
	defer ticker.Stop()

	for {
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case <-watcherEvents(watcher):
		case <-time.After(time.Until(deadline)):
		}
		msgs, err := ib.Read(team, agent, true)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
	}
}

func watcherEvents(w *fsnotify.Watcher) <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func unreadOf(messages []InboxMessage) []InboxMessage {
	var unread []InboxMessage
	for _, m := range messages {
		if m.ReadAtMs == nil {
			unread = append(unread, m)
		}
	}
	return unread
}
