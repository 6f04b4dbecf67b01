package supabase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cloudzz-dev/periskope/internal/backend"
)

func (c *Client) objectPath(name string) string {
	return c.bucket + "/" + url.PathEscape(name)
}

func (c *Client) Upload(ctx context.Context, name string, r io.Reader, opts backend.UploadOptions) error {
	headers := map[string]string{
		"x-upsert": strconv.FormatBool(opts.Upsert),
	}
	if opts.ContentType != "" {
		headers["Content-Type"] = opts.ContentType
	}
	if opts.CacheControl != "" {
		headers["Cache-Control"] = "max-age=" + opts.CacheControl
	}

	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/storage/v1/object/" + c.objectPath(name),
		body:    r,
		headers: headers,
	}, nil)

	var be *backend.Error
	if errors.As(err, &be) && (be.Status == http.StatusConflict || be.Code == "Duplicate") {
		return errors.Join(backend.ErrObjectExists, err)
	}
	return err
}

func (c *Client) PublicURL(name string) string {
	return c.baseURL + "/storage/v1/object/public/" + c.objectPath(name)
}
