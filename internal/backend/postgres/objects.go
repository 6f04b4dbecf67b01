package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudzz-dev/periskope/internal/backend"
)

// objectDir stores attachments as plain files under root. Whatever serves
// root over HTTP is reachable at publicBase/bucket.
type objectDir struct {
	root       string
	publicBase string
	bucket     string
}

func validObjectName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("postgres: invalid object name %q", name)
	}
	return nil
}

func (d *objectDir) put(name string, r io.Reader, upsert bool) error {
	if err := validObjectName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE
	if upsert {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	path := filepath.Join(d.root, name)
	f, err := os.OpenFile(path, flags, 0644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", backend.ErrObjectExists, name)
	}
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("postgres: write object %s: %w", name, err)
	}
	return f.Close()
}

func (d *objectDir) url(name string) string {
	return strings.TrimRight(d.publicBase, "/") + "/" + d.bucket + "/" + url.PathEscape(name)
}

// Upload writes the object to the storage directory. Content type and cache
// lifetime are left to the file server.
func (s *Store) Upload(ctx context.Context, name string, r io.Reader, opts backend.UploadOptions) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.objects.put(name, r, opts.Upsert)
}

func (s *Store) PublicURL(name string) string {
	return s.objects.url(name)
}
