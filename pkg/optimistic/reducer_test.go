package optimistic

import (
	"reflect"
	"testing"

	"github.com/nstogner/agentchat/pkg/domain"
)

func msg(id, text string, sender domain.Sender) domain.UIMessage {
	m := domain.UIMessage{
		Message: domain.Message{ID: id, Content: text, Text: text, Sender: sender, IsUser: sender == domain.SenderUser},
		Status:  domain.StatusCompleted,
	}
	return m
}

func texts(list []domain.UIMessage) []string {
	var out []string
	for _, m := range list {
		out = append(out, m.ID+":"+m.Text)
	}
	return out
}

func TestReduceIsPure(t *testing.T) {
	base := []domain.UIMessage{msg("a", "one", domain.SenderUser), msg("b", "two", domain.SenderAgent)}
	snapshot := append([]domain.UIMessage(nil), base...)

	actions := []Action{
		Add(msg("c", "three", domain.SenderAgent)),
		InsertAfter("a", msg("q", "?", domain.SenderSystem)),
		AppendContent("b", "!"),
		SetStatus("b", domain.StatusError).WithContent("boom"),
		Remove("a"),
		SetFeedback("b", domain.FeedbackLiked),
		SetMessages([]domain.UIMessage{msg("z", "zz", domain.SenderUser)}),
	}
	for _, a := range actions {
		first := Reduce(base, a)
		second := Reduce(base, a)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: results differ between calls", a.Type)
		}
		if !reflect.DeepEqual(base, snapshot) {
			t.Fatalf("%s: input list was mutated", a.Type)
		}
	}
}

func TestReduceUnknownIDIsNoop(t *testing.T) {
	base := []domain.UIMessage{msg("a", "one", domain.SenderUser)}
	for _, a := range []Action{
		AppendContent("missing", "x"),
		Remove("missing"),
		SetStatus("missing", domain.StatusCompleted),
		SetFeedback("missing", domain.FeedbackDisliked),
	} {
		got := Reduce(base, a)
		if !reflect.DeepEqual(got, base) {
			t.Errorf("%s on missing id: got %v, want %v", a.Type, texts(got), texts(base))
		}
	}
}

func TestReduceAppendContentStreams(t *testing.T) {
	list := []domain.UIMessage{{Message: domain.Message{ID: "x", Sender: domain.SenderAgent}, Status: domain.StatusPending}}
	for _, chunk := range []string{"Hel", "lo, ", "world"} {
		list = Reduce(list, AppendContent("x", chunk))
	}
	if list[0].Text != "Hello, world" || list[0].Content != "Hello, world" {
		t.Errorf("text = %q, want %q", list[0].Text, "Hello, world")
	}
	if !list[0].IsStreaming {
		t.Error("expected IsStreaming while chunks arrive")
	}

	list = Reduce(list, SetStatus("x", domain.StatusCompleted).WithStreaming(false))
	if list[0].IsStreaming || list[0].Status != domain.StatusCompleted || list[0].Text != "Hello, world" {
		t.Errorf("after settle: %+v", list[0])
	}
}

func TestReduceSetStatusError(t *testing.T) {
	list := []domain.UIMessage{msg("a", "one", domain.SenderAgent)}
	list = Reduce(list, SetStatus("a", domain.StatusError))
	if !list[0].IsError {
		t.Error("IsError should follow error status")
	}
	if list[0].Text != "one" {
		t.Errorf("text changed without content: %q", list[0].Text)
	}
	list = Reduce(list, SetStatus("a", domain.StatusCompleted))
	if list[0].IsError {
		t.Error("IsError should clear when status leaves error")
	}
}

func TestReduceInsertAfter(t *testing.T) {
	base := []domain.UIMessage{msg("a", "1", domain.SenderUser), msg("b", "2", domain.SenderAgent), msg("c", "3", domain.SenderUser)}
	got := Reduce(base, InsertAfter("b", msg("q", "?", domain.SenderSystem)))
	want := []string{"a:1", "b:2", "q:?", "c:3"}
	if !reflect.DeepEqual(texts(got), want) {
		t.Errorf("got %v, want %v", texts(got), want)
	}

	got = Reduce(base, InsertAfter("missing", msg("q", "?", domain.SenderSystem)))
	if got[len(got)-1].ID != "q" {
		t.Errorf("unknown anchor should append, got %v", texts(got))
	}
}

func TestReduceRemoveIdempotent(t *testing.T) {
	base := []domain.UIMessage{msg("a", "1", domain.SenderUser), msg("b", "2", domain.SenderAgent)}
	once := Reduce(base, Remove("a"))
	twice := Reduce(once, Remove("a"))
	if !reflect.DeepEqual(once, twice) || len(once) != 1 {
		t.Errorf("remove not idempotent: %v vs %v", texts(once), texts(twice))
	}
}
