package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
)

const (
	chatColumns  = "id,name,last_message,phone"
	singleObject = "application/vnd.pgrst.object+json"
)

func restPath(table string) string {
	return "/rest/v1/" + table
}

func (c *Client) ListChats(ctx context.Context) ([]chat.Conversation, error) {
	var rows []chat.Conversation
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   restPath(backend.TableChats),
		query:  url.Values{"select": {chatColumns}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) SetLastMessage(ctx context.Context, chatID, preview string) error {
	return c.do(ctx, request{
		method:  http.MethodPatch,
		path:    restPath(backend.TableChats),
		query:   url.Values{"id": {"eq." + chatID}},
		json:    map[string]string{"last_message": preview},
		headers: map[string]string{"Prefer": "return=minimal"},
	}, nil)
}

// ListMessages asks for the page newest-first so the limit keeps the most
// recent rows, then returns it oldest-first.
func (c *Client) ListMessages(ctx context.Context, chatID string, page chat.Page) ([]chat.Message, error) {
	q := url.Values{
		"select":  {"*"},
		"chat_id": {"eq." + chatID},
	}
	if page.Limit > 0 {
		q.Set("order", "created_at.desc,id.desc")
		q.Set("limit", strconv.Itoa(page.Limit))
	} else {
		q.Set("order", "created_at.asc,id.asc")
	}
	if !page.Before.IsZero() {
		before := page.Before.UTC().Format(time.RFC3339Nano)
		if page.BeforeID != "" {
			q.Set("or", fmt.Sprintf("(created_at.lt.%s,and(created_at.eq.%s,id.lt.%s))", before, before, page.BeforeID))
		} else {
			q.Set("created_at", "lt."+before)
		}
	}

	var rows []chat.Message
	if err := c.do(ctx, request{method: http.MethodGet, path: restPath(backend.TableMessages), query: q}, &rows); err != nil {
		return nil, err
	}
	if page.Limit > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return rows, nil
}

func (c *Client) InsertMessage(ctx context.Context, msg chat.NewMessage) (*chat.Message, error) {
	var row chat.Message
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   restPath(backend.TableMessages),
		json:   msg,
		headers: map[string]string{
			"Prefer": "return=representation",
			"Accept": singleObject,
		},
	}, &row)
	if err != nil {
		return nil, err
	}
	return &row, nil
}
