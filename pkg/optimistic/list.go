package optimistic

import (
	"github.com/nstogner/agentchat/pkg/domain"
)

// Tx identifies a group of speculative actions that settle together.
type Tx uint64

type entry struct {
	tx     Tx
	action Action
}

// List holds the confirmed messages of one conversation and an ordered log
// of pending actions. The visible list is always confirmed + pending folded
// through Reduce. List is not safe for concurrent use; callers guard it.
type List struct {
	conversationID string
	confirmed      []domain.UIMessage
	pending        []entry
	open           map[Tx]string
	next           Tx
}

// NewList returns an empty list not bound to any conversation.
func NewList() *List {
	return &List{open: make(map[Tx]string)}
}

// ConversationID returns the conversation the list currently tracks.
func (l *List) ConversationID() string { return l.conversationID }

// Reset binds the list to conversationID with msgs as the confirmed state.
// All open transactions are discarded, so late actions for a previous
// conversation become no-ops.
func (l *List) Reset(conversationID string, msgs []domain.UIMessage) {
	l.conversationID = conversationID
	l.confirmed = Reduce(nil, SetMessages(msgs))
	l.pending = nil
	l.open = make(map[Tx]string)
}

// Begin opens a transaction for the current conversation.
func (l *List) Begin() Tx {
	l.next++
	l.open[l.next] = l.conversationID
	return l.next
}

// Apply records actions as pending under tx. It returns false when tx is no
// longer open or none of the actions belong to the current conversation.
func (l *List) Apply(tx Tx, actions ...Action) bool {
	if !l.live(tx) {
		return false
	}
	applied := false
	for _, a := range actions {
		if !l.matches(a) {
			continue
		}
		applied = true
		if a.Type == ActionAppendContent {
			if i := l.lastOf(tx); i >= 0 {
				last := &l.pending[i].action
				if last.Type == ActionAppendContent && last.MessageID == a.MessageID {
					last.Chunk += a.Chunk
					continue
				}
			}
		}
		l.pending = append(l.pending, entry{tx: tx, action: a})
	}
	return applied
}

// Commit folds the pending actions of tx into the confirmed state.
func (l *List) Commit(tx Tx) bool {
	if !l.live(tx) {
		return false
	}
	l.confirmed = ReduceAll(l.confirmed, l.take(tx)...)
	delete(l.open, tx)
	return true
}

// Rollback discards the pending actions of tx and applies the compensating
// actions to the confirmed state.
func (l *List) Rollback(tx Tx, compensate ...Action) bool {
	if !l.live(tx) {
		return false
	}
	l.take(tx)
	delete(l.open, tx)
	l.Mutate(compensate...)
	return true
}

// Mutate applies actions directly to the confirmed state.
func (l *List) Mutate(actions ...Action) {
	for _, a := range actions {
		if l.matches(a) {
			l.confirmed = Reduce(l.confirmed, a)
		}
	}
}

// View returns the optimistic projection.
func (l *List) View() []domain.UIMessage {
	out := clone(l.confirmed)
	for _, e := range l.pending {
		out = Reduce(out, e.action)
	}
	return out
}

// Confirmed returns a copy of the confirmed messages.
func (l *List) Confirmed() []domain.UIMessage {
	return clone(l.confirmed)
}

// Pending returns the number of unsettled actions.
func (l *List) Pending() int { return len(l.pending) }

// Find looks a message up in the optimistic projection.
func (l *List) Find(id string) (domain.UIMessage, int, bool) {
	view := l.View()
	if i := indexOf(view, id); i >= 0 {
		return view[i], i, true
	}
	return domain.UIMessage{}, -1, false
}

func (l *List) live(tx Tx) bool {
	conv, ok := l.open[tx]
	return ok && conv == l.conversationID
}

func (l *List) matches(a Action) bool {
	return a.ConversationID == "" || a.ConversationID == l.conversationID
}

func (l *List) lastOf(tx Tx) int {
	for i := len(l.pending) - 1; i >= 0; i-- {
		if l.pending[i].tx == tx {
			return i
		}
	}
	return -1
}

func (l *List) take(tx Tx) []Action {
	var taken []Action
	kept := l.pending[:0]
	for _, e := range l.pending {
		if e.tx == tx {
			taken = append(taken, e.action)
		} else {
			kept = append(kept, e)
		}
	}
	l.pending = kept
	return taken
}
