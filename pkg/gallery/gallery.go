// Package gallery archives generated images. A Gallery names each image by
// date and turn, hands the bytes to a Backend (local disk or an S3 bucket),
// records where the image went in chat.Image.Path, and optionally catalogs
// it in a kv.Store so archived images can be listed later.
package gallery

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/haivivi/gizchat/pkg/chat"
	"github.com/haivivi/gizchat/pkg/kv"
)

// ErrNotExist is returned by Backend.Get for a missing image.
var ErrNotExist = errors.New("gallery: image does not exist")

// Backend stores image bytes under slash-separated names. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Put stores data and returns a location the user can open: a file
	// path or a URL.
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)

	// Get returns the bytes stored under name or an error wrapping
	// ErrNotExist.
	Get(ctx context.Context, name string) ([]byte, error)

	// Delete is a no-op for a missing name.
	Delete(ctx context.Context, name string) error
}

var _ chat.ImageArchiver = (*Gallery)(nil)

// Gallery implements chat.ImageArchiver on a Backend.
type Gallery struct {
	backend Backend
	index   kv.Store
	now     func() time.Time
}

// New creates a Gallery. index may be nil, which disables List.
func New(backend Backend, index kv.Store) *Gallery {
	return &Gallery{backend: backend, index: index, now: time.Now}
}

// Archive stores img and returns it with Path set to the stored location.
func (g *Gallery) Archive(ctx context.Context, turnID string, img chat.Image) (chat.Image, error) {
	if len(img.Data) == 0 {
		return img, errors.New("gallery: empty image")
	}
	name := g.name(turnID, img.MIMEType)
	loc, err := g.backend.Put(ctx, name, img.MIMEType, img.Data)
	if err != nil {
		return img, fmt.Errorf("gallery: put %s: %w", name, err)
	}
	img.Path = loc
	if g.index != nil {
		entry := Entry{
			Name:     name,
			Location: loc,
			MIMEType: img.MIMEType,
			TurnID:   turnID,
			Size:     len(img.Data),
			Created:  g.now(),
		}
		if err := g.catalog(ctx, entry); err != nil {
			slog.Warn("gallery: catalog image", "name", name, "error", err)
		}
	}
	return img, nil
}

// Get returns the bytes of an archived image by name.
func (g *Gallery) Get(ctx context.Context, name string) ([]byte, error) {
	if !validName(name) {
		return nil, fmt.Errorf("gallery: invalid name %q: %w", name, ErrNotExist)
	}
	return g.backend.Get(ctx, name)
}

// name is "YYYY/MM/DD/<turn>-<rand>.<ext>".
func (g *Gallery) name(turnID, mimeType string) string {
	var b [4]byte
	rand.Read(b[:])
	base := sanitize(turnID)
	if base == "" {
		base = "image"
	}
	return path.Join(g.now().Format("2006/01/02"), base+"-"+hex.EncodeToString(b[:])+extension(mimeType))
}

func extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, s)
}

// validName rejects names that could escape the backend root.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
