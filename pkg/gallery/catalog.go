package gallery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/gizchat/pkg/kv"
)

// Entry describes an archived image.
type Entry struct {
	Name     string    `json:"name" yaml:"name" msgpack:"name"`
	Location string    `json:"location" yaml:"location" msgpack:"loc"`
	MIMEType string    `json:"mime_type" yaml:"mime_type" msgpack:"mime"`
	TurnID   string    `json:"turn_id,omitzero" yaml:"turn_id,omitempty" msgpack:"turn,omitempty"`
	Size     int       `json:"size" yaml:"size" msgpack:"size"`
	Created  time.Time `json:"created" yaml:"created" msgpack:"created"`
}

func catalogKey(name string) kv.Key {
	return kv.Key{"gallery", name}
}

func (g *Gallery) catalog(ctx context.Context, e Entry) error {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return err
	}
	return g.index.Set(ctx, catalogKey(e.Name), data)
}

// List returns the cataloged images, newest first.
func (g *Gallery) List(ctx context.Context) ([]Entry, error) {
	if g.index == nil {
		return nil, errors.New("gallery: no catalog")
	}
	var out []Entry
	for item, err := range g.index.List(ctx, kv.Key{"gallery"}) {
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := msgpack.Unmarshal(item.Value, &e); err != nil {
			return nil, fmt.Errorf("gallery: decode %s: %w", item.Key, err)
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return b.Created.Compare(a.Created)
	})
	return out, nil
}

// Delete removes an archived image from the backend and the catalog.
func (g *Gallery) Delete(ctx context.Context, name string) error {
	if !validName(name) {
		return fmt.Errorf("gallery: invalid name %q", name)
	}
	if err := g.backend.Delete(ctx, name); err != nil {
		return err
	}
	if g.index != nil {
		return g.index.Delete(ctx, catalogKey(name))
	}
	return nil
}
