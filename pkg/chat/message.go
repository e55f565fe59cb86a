package chat

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Role string

func (r Role) String() string {
	return string(r)
}

// GroundingChunk is a citation attached to a model turn.
type GroundingChunk struct {
	SourceURI   string `json:"source_uri" yaml:"source_uri"`
	SourceTitle string `json:"source_title,omitzero" yaml:"source_title,omitempty"`
}

// Image is an image payload attached to a turn. Path is set once the image
// has been archived by an ImageArchiver.
type Image struct {
	MIMEType string `json:"mime_type" yaml:"mime_type"`
	Data     []byte `json:"-" yaml:"-"`
	Path     string `json:"path,omitzero" yaml:"path,omitempty"`
}

func (img Image) clone() Image {
	img.Data = slices.Clone(img.Data)
	return img
}

type MusicTrack struct {
	Title    string `json:"title" yaml:"title"`
	Artist   string `json:"artist" yaml:"artist"`
	ImageURL string `json:"image_url,omitzero" yaml:"image_url,omitempty"`
}

// Turn is one entry of the transcript.
type Turn struct {
	ID        string           `json:"id" yaml:"id"`
	Role      Role             `json:"role" yaml:"role"`
	Text      string           `json:"text" yaml:"text"`
	Streaming bool             `json:"streaming,omitzero" yaml:"streaming,omitempty"`
	Timestamp int64            `json:"timestamp" yaml:"timestamp"`
	Grounding []GroundingChunk `json:"grounding,omitzero" yaml:"grounding,omitempty"`
	Images    []Image          `json:"images,omitzero" yaml:"images,omitempty"`
	Music     *MusicTrack      `json:"music,omitzero" yaml:"music,omitempty"`
}

// NewTurn creates a turn with a fresh id and the current timestamp.
func NewTurn(role Role, text string, images ...Image) Turn {
	t := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, img := range images {
		t.Images = append(t.Images, img.clone())
	}
	return t
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	t.Grounding = slices.Clone(t.Grounding)
	if t.Images != nil {
		imgs := make([]Image, len(t.Images))
		for i, img := range t.Images {
			imgs[i] = img.clone()
		}
		t.Images = imgs
	}
	if t.Music != nil {
		m := *t.Music
		t.Music = &m
	}
	return t
}
