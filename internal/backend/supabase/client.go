// Package supabase talks to a hosted Supabase project: GoTrue for auth,
// PostgREST for rows, Storage for files and Realtime for change events.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/client/session"
)

type Options struct {
	URL     string
	AnonKey string
	Bucket  string

	// Store persists the sign-in between runs. Nil keeps it in memory.
	Store      session.Store
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL string
	anonKey string
	bucket  string
	http    *http.Client
	store   session.Store
	logger  *zap.Logger

	mu      sync.Mutex
	session *session.Session

	// refreshMu lets one caller refresh an expired token while the others
	// wait and then use the new one.
	refreshMu sync.Mutex

	rt *socket
}

var _ backend.Backend = (*Client)(nil)

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if base == "" || opts.AnonKey == "" {
		return nil, errors.New("supabase: url and anon key are required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("supabase: parse url: %w", err)
	}

	c := &Client{
		baseURL: base,
		anonKey: opts.AnonKey,
		bucket:  opts.Bucket,
		http:    opts.HTTPClient,
		store:   opts.Store,
		logger:  opts.Logger,
	}
	if c.bucket == "" {
		c.bucket = "chat-files"
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.store == nil {
		c.store = &session.MemoryStore{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	wsURL, err := realtimeURL(base, opts.AnonKey)
	if err != nil {
		return nil, err
	}
	c.rt = newSocket(wsURL, c.validToken, c.logger)
	return c, nil
}

func (c *Client) Close() error {
	return c.rt.close()
}

// accessToken is the signed-in user's token, or the anon key before sign-in.
func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.AccessToken != "" {
		return c.session.AccessToken
	}
	return c.anonKey
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    io.Reader
	json    any
	headers map[string]string
	token   string
}

// do sends req and decodes a 2xx JSON body into out (when non-nil).
// Non-2xx responses become *backend.Error.
func (c *Client) do(ctx context.Context, req request, out any) error {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	body := req.body
	if req.json != nil {
		data, err := json.Marshal(req.json)
		if err != nil {
			return fmt.Errorf("supabase: encode %s body: %w", req.path, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return err
	}
	token := req.token
	if token == "" {
		if token, err = c.validToken(ctx); err != nil {
			return err
		}
	}
	httpReq.Header.Set("apikey", c.anonKey)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if req.json != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("supabase: %s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("supabase: read %s response: %w", req.path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("supabase: decode %s response: %w", req.path, err)
	}
	return nil
}

// errorBody covers the error shapes of GoTrue, PostgREST and Storage.
type errorBody struct {
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
	Error            string          `json:"error"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

func decodeError(status int, data []byte) error {
	be := &backend.Error{Status: status}
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		be.Message = strings.TrimSpace(string(data))
		if be.Message == "" {
			be.Message = http.StatusText(status)
		}
		return be
	}

	for _, m := range []string{body.Msg, body.Message, body.ErrorDescription, body.Error} {
		if m != "" {
			be.Message = m
			break
		}
	}
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}

	be.Code = body.ErrorCode
	if be.Code == "" && len(body.Code) > 0 {
		be.Code = strings.Trim(string(body.Code), `"`)
	}
	if be.Code == "" && body.Error != "" && body.Error != be.Message {
		be.Code = body.Error
	}
	return be
}
