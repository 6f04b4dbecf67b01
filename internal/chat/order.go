package chat

import (
	"sort"
	"strings"
)

// InsertOrdered places m by CreatedAt, after any message with an equal
// timestamp. A message whose ID is already present is ignored.
func InsertOrdered(msgs []Message, m Message) []Message {
	for _, existing := range msgs {
		if m.ID != "" && existing.ID == m.ID {
			return msgs
		}
	}
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.After(m.CreatedAt)
	})
	msgs = append(msgs, Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs
}

// OlderPage returns the page just before the oldest of msgs. Ties on
// CreatedAt are broken by the smallest ID so rows sharing the timestamp are
// not skipped.
func OlderPage(msgs []Message, limit int) Page {
	page := Page{Limit: limit}
	if len(msgs) == 0 {
		return page
	}
	page.Before = msgs[0].CreatedAt
	page.BeforeID = msgs[0].ID
	for _, m := range msgs[1:] {
		if !m.CreatedAt.Equal(page.Before) {
			break
		}
		if m.ID < page.BeforeID {
			page.BeforeID = m.ID
		}
	}
	return page
}

// PrependOlder puts an older page in front of msgs, dropping ids that are
// already loaded.
func PrependOlder(msgs, older []Message) []Message {
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = struct{}{}
	}
	out := make([]Message, 0, len(older)+len(msgs))
	for _, m := range older {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		out = append(out, m)
	}
	return append(out, msgs...)
}

// FilterByName keeps conversations whose name contains query, ignoring case.
func FilterByName(convs []Conversation, query string) []Conversation {
	if query == "" {
		return convs
	}
	q := strings.ToLower(query)
	var out []Conversation
	for _, c := range convs {
		if strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
		}
	}
	return out
}
