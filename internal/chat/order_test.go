package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestInsertOrdered(t *testing.T) {
	msgs := []Message{
		{ID: "a", CreatedAt: at("2024-01-01T10:00:00Z")},
		{ID: "c", CreatedAt: at("2024-01-01T12:00:00Z")},
	}

	msgs = InsertOrdered(msgs, Message{ID: "b", CreatedAt: at("2024-01-01T11:00:00Z")})
	msgs = InsertOrdered(msgs, Message{ID: "d", CreatedAt: at("2024-01-01T13:00:00Z")})
	msgs = InsertOrdered(msgs, Message{ID: "c2", CreatedAt: at("2024-01-01T12:00:00Z")})
	msgs = InsertOrdered(msgs, Message{ID: "z", CreatedAt: at("2023-12-31T23:00:00Z")})

	got := ids(msgs)
	want := []string{"z", "a", "b", "c", "c2", "d"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}

func TestInsertOrderedSkipsDuplicate(t *testing.T) {
	msgs := []Message{{ID: "a", CreatedAt: at("2024-01-01T10:00:00Z")}}
	msgs = InsertOrdered(msgs, Message{ID: "a", CreatedAt: at("2024-01-02T10:00:00Z")})
	if len(msgs) != 1 {
		t.Fatalf("Expected duplicate to be ignored, got %v", ids(msgs))
	}
}

func TestPrependOlder(t *testing.T) {
	msgs := []Message{{ID: "c"}, {ID: "d"}}
	older := []Message{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := ids(PrependOlder(msgs, older))
	want := "a,b,c,d"
	joined := ""
	for i, id := range got {
		if i > 0 {
			joined += ","
		}
		joined += id
	}
	if joined != want {
		t.Errorf("Expected %s, got %s", want, joined)
	}
}

func TestFilterByName(t *testing.T) {
	convs := []Conversation{{ID: "1", Name: "Alice"}, {ID: "2", Name: "bob"}}

	got := FilterByName(convs, "al")
	if len(got) != 1 || got[0].Name != "Alice" {
		t.Fatalf("Expected only Alice, got %+v", got)
	}

	if got := FilterByName(convs, "BO"); len(got) != 1 || got[0].Name != "bob" {
		t.Fatalf("Expected case-insensitive match on bob, got %+v", got)
	}

	if got := FilterByName(convs, ""); len(got) != 2 {
		t.Fatalf("Expected empty query to keep everything, got %+v", got)
	}

	phone := []Conversation{{ID: "3", Name: "Carol", Phone: "+44 al"}}
	if got := FilterByName(phone, "al"); len(got) != 0 {
		t.Fatalf("Expected phone to be ignored, got %+v", got)
	}
}

func TestMessageKind(t *testing.T) {
	text := "hi"
	url := "https://x/y.png"
	empty := ""

	cases := []struct {
		msg  Message
		want MessageKind
	}{
		{Message{Content: &text}, KindText},
		{Message{FileURL: &url}, KindAttachment},
		{Message{Content: &text, FileURL: &url}, KindText},
		{Message{Content: &empty, FileURL: &url}, KindAttachment},
		{Message{}, KindEmpty},
	}
	for i, c := range cases {
		if got := c.msg.Kind(); got != c.want {
			t.Errorf("case %d: expected %v, got %v", i, c.want, got)
		}
	}
}

func TestNewMessageVariantsAreExclusive(t *testing.T) {
	text := NewTextMessage("c1", "u1", "hello")
	if text.FileURL != nil || text.FileType != nil || text.Content == nil {
		t.Fatalf("Expected text-only payload, got %+v", text)
	}

	file := NewAttachmentMessage("c1", "u1", "https://x/1.png", "image/png")
	if file.Content != nil || file.FileURL == nil || file.FileType == nil {
		t.Fatalf("Expected attachment-only payload, got %+v", file)
	}

	data, err := json.Marshal(file)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if _, ok := raw["content"]; ok {
		t.Errorf("Expected content to be absent from %s", data)
	}
}

func TestMessageUnmarshalTimestamps(t *testing.T) {
	cases := map[string]string{
		`{"id":"1","created_at":"2024-01-01T10:00:00.123456+00:00"}`: "2024-01-01T10:00:00Z",
		`{"id":"1","created_at":"2024-01-01T10:00:00.5"}`:            "2024-01-01T10:00:00Z",
		`{"id":"1","created_at":"2024-01-01 10:00:00+00"}`:           "2024-01-01T10:00:00Z",
		`{"id":"1","created_at":"yesterday"}`:                        "",
	}
	for in, wantPrefix := range cases {
		var m Message
		err := json.Unmarshal([]byte(in), &m)
		if wantPrefix == "" {
			if err == nil {
				t.Errorf("Expected error for %s", in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Failed to unmarshal %s: %v", in, err)
		}
		if got := m.CreatedAt.UTC().Truncate(time.Second).Format(time.RFC3339); got != wantPrefix {
			t.Errorf("Expected %s, got %s", wantPrefix, got)
		}
	}
}

func TestSubscriptionAccepts(t *testing.T) {
	sub := Subscription{Table: "messages", Event: EventInsert, Filter: &Eq{Column: "chat_id", Value: "c1"}}

	if !sub.Accepts("messages", EventInsert, map[string]any{"chat_id": "c1"}) {
		t.Error("Expected matching insert to pass")
	}
	if sub.Accepts("messages", EventUpdate, map[string]any{"chat_id": "c1"}) {
		t.Error("Expected update to be filtered out")
	}
	if sub.Accepts("messages", EventInsert, map[string]any{"chat_id": "c2"}) {
		t.Error("Expected other chat to be filtered out")
	}
	if sub.Accepts("chats", EventInsert, map[string]any{"chat_id": "c1"}) {
		t.Error("Expected other table to be filtered out")
	}

	all := Subscription{Table: "chats", Event: EventAll}
	if !all.Accepts("chats", EventDelete, nil) {
		t.Error("Expected wildcard to accept delete")
	}
}

func TestOlderPage(t *testing.T) {
	if p := OlderPage(nil, 10); !p.Before.IsZero() || p.BeforeID != "" || p.Limit != 10 {
		t.Errorf("Expected newest page for empty thread, got %+v", p)
	}

	same := at("2024-01-01T10:00:00Z")
	msgs := []Message{
		{ID: "m5", CreatedAt: same},
		{ID: "m3", CreatedAt: same},
		{ID: "m9", CreatedAt: at("2024-01-01T10:01:00Z")},
		{ID: "m1", CreatedAt: at("2024-01-01T10:02:00Z")},
	}
	p := OlderPage(msgs, 2)
	if !p.Before.Equal(same) || p.BeforeID != "m3" {
		t.Errorf("Expected cursor (10:00, m3), got (%v, %q)", p.Before, p.BeforeID)
	}
}

func TestPagePrecedes(t *testing.T) {
	cursor := at("2024-01-01T10:00:00Z")
	tests := []struct {
		name string
		page Page
		msg  Message
		want bool
	}{
		{"no cursor", Page{}, Message{ID: "z", CreatedAt: cursor}, true},
		{"earlier", Page{Before: cursor, BeforeID: "m5"}, Message{ID: "m9", CreatedAt: cursor.Add(-time.Second)}, true},
		{"later", Page{Before: cursor, BeforeID: "m5"}, Message{ID: "m1", CreatedAt: cursor.Add(time.Second)}, false},
		{"tie with smaller id", Page{Before: cursor, BeforeID: "m5"}, Message{ID: "m3", CreatedAt: cursor}, true},
		{"tie with larger id", Page{Before: cursor, BeforeID: "m5"}, Message{ID: "m7", CreatedAt: cursor}, false},
		{"cursor row itself", Page{Before: cursor, BeforeID: "m5"}, Message{ID: "m5", CreatedAt: cursor}, false},
		{"tie without id", Page{Before: cursor}, Message{ID: "m3", CreatedAt: cursor}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.page.Precedes(tt.msg); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
