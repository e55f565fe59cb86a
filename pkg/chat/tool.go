package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolName identifies one of the tools the model may invoke.
type ToolName string

const (
	ToolPlayMusic         ToolName = "play_music"
	ToolOpenGoogleSearch  ToolName = "open_google_search"
	ToolOpenReachSecurity ToolName = "open_reach_security"
	ToolGenerateImage     ToolName = "generate_image"
)

const (
	// UnknownArtist is used when play_music is invoked without an artist.
	UnknownArtist = "Unknown Artist"

	// ReachSecurityURL is the fixed reference link of open_reach_security.
	ReachSecurityURL = "https://reach.security"

	googleSearchURL = "https://www.google.com/search?q="
	coverArtURL     = "https://picsum.photos/seed/%s/300"
)

// Tool results returned to the model.
const (
	ResultToolDone       = "Function executed successfully."
	ResultMusicPlaying   = "Now playing %q by %s in the music player."
	ResultSearchOpened   = "Opened a Google search for %q."
	ResultReachOpened    = "Opened the Reach Security website."
	ResultImageGenerated = "Image generated and shown to the user."
	ResultImageFailed    = "Failed to generate the image."
)

// PlayMusicArgs are the arguments of play_music.
type PlayMusicArgs struct {
	Song   string `json:"song" jsonschema:"the title of the song to play"`
	Artist string `json:"artist,omitempty" jsonschema:"the artist of the song"`
}

// OpenGoogleSearchArgs are the arguments of open_google_search.
type OpenGoogleSearchArgs struct {
	Query string `json:"query" jsonschema:"the search query"`
}

// OpenReachSecurityArgs are the arguments of open_reach_security.
type OpenReachSecurityArgs struct{}

// GenerateImageArgs are the arguments of generate_image.
type GenerateImageArgs struct {
	Prompt string `json:"prompt" jsonschema:"a detailed description of the image to generate"`
}

// ToolSpec declares a tool to the remote model.
type ToolSpec struct {
	Name        ToolName
	Description string
	Parameters  *jsonschema.Schema
}

func newToolSpec[Args any](name ToolName, description string) ToolSpec {
	schema, err := jsonschema.For[Args](&jsonschema.ForOptions{})
	if err != nil {
		panic(fmt.Sprintf("chat: schema for %s: %v", name, err))
	}
	return ToolSpec{
		Name:        name,
		Description: description,
		Parameters:  schema,
	}
}

var toolSpecs = []ToolSpec{
	newToolSpec[PlayMusicArgs](ToolPlayMusic,
		"Play a song in the music player shown next to the reply."),
	newToolSpec[OpenGoogleSearchArgs](ToolOpenGoogleSearch,
		"Open a Google search for the query in the user's browser."),
	newToolSpec[OpenReachSecurityArgs](ToolOpenReachSecurity,
		"Open the Reach Security website in the user's browser."),
	newToolSpec[GenerateImageArgs](ToolGenerateImage,
		"Generate an image from a text prompt and show it to the user."),
}

// Tools returns the declarations of every recognized tool.
func Tools() []ToolSpec {
	out := make([]ToolSpec, len(toolSpecs))
	for i, spec := range toolSpecs {
		out[i] = spec
		out[i].Parameters = spec.Parameters.CloneSchemas()
	}
	return out
}

// Dispatcher executes tool invocations. It holds no state between calls;
// side effects go to the Store and the collaborators.
type Dispatcher struct {
	Store    *Store
	Opener   LinkOpener
	Images   ImageGenerator
	Archiver ImageArchiver
}

// Dispatch executes inv against the turn with the given id and returns the
// textual result for the model. An empty id targets the last model turn.
// Unknown tools are acknowledged with ResultToolDone, never an error.
func (d *Dispatcher) Dispatch(ctx context.Context, turnID string, inv *ToolInvocation) string {
	if turnID == "" {
		if last, ok := d.Store.LastModel(); ok {
			turnID = last.ID
		}
	}
	slog.Debug("chat/dispatcher: invoke", "tool", inv.Name, "id", inv.ID, "turn", turnID)

	switch ToolName(inv.Name) {
	case ToolPlayMusic:
		return d.playMusic(turnID, decodeArgs[PlayMusicArgs](inv))
	case ToolOpenGoogleSearch:
		return d.openGoogleSearch(decodeArgs[OpenGoogleSearchArgs](inv))
	case ToolOpenReachSecurity:
		return d.openReachSecurity()
	case ToolGenerateImage:
		return d.generateImage(ctx, turnID, decodeArgs[GenerateImageArgs](inv))
	default:
		slog.Warn("chat/dispatcher: unknown tool", "tool", inv.Name)
		return ResultToolDone
	}
}

func (d *Dispatcher) playMusic(turnID string, args PlayMusicArgs) string {
	artist := args.Artist
	if artist == "" {
		artist = UnknownArtist
	}
	track := MusicTrack{
		Title:    args.Song,
		Artist:   artist,
		ImageURL: fmt.Sprintf(coverArtURL, url.PathEscape(args.Song)),
	}
	d.Store.Update(turnID, func(t Turn) Turn {
		if t.Role == RoleModel {
			t.Music = &track
		}
		return t
	})
	return fmt.Sprintf(ResultMusicPlaying, args.Song, artist)
}

func (d *Dispatcher) openGoogleSearch(args OpenGoogleSearchArgs) string {
	d.open(googleSearchURL + url.QueryEscape(args.Query))
	return fmt.Sprintf(ResultSearchOpened, args.Query)
}

func (d *Dispatcher) openReachSecurity() string {
	d.open(ReachSecurityURL)
	return ResultReachOpened
}

func (d *Dispatcher) open(u string) {
	if d.Opener == nil {
		slog.Warn("chat/dispatcher: no link opener", "url", u)
		return
	}
	if err := d.Opener.Open(u); err != nil {
		slog.Warn("chat/dispatcher: open link", "url", u, "error", err)
	}
}

func (d *Dispatcher) generateImage(ctx context.Context, turnID string, args GenerateImageArgs) string {
	if d.Images == nil || args.Prompt == "" {
		return ResultImageFailed
	}
	if t, ok := d.Store.Get(turnID); !ok || t.Role != RoleModel {
		slog.Warn("chat/dispatcher: no model turn for image", "turn", turnID)
		return ResultImageFailed
	}
	img, err := d.Images.GenerateImage(ctx, args.Prompt)
	if err != nil {
		slog.Warn("chat/dispatcher: generate image", "prompt", args.Prompt, "error", err)
		return ResultImageFailed
	}
	if img == nil || len(img.Data) == 0 {
		return ResultImageFailed
	}
	// the turn may be gone once generation returns
	if _, ok := d.Store.Get(turnID); !ok {
		return ResultImageFailed
	}
	out := img.clone()
	if d.Archiver != nil {
		archived, err := d.Archiver.Archive(ctx, turnID, out)
		if err != nil {
			slog.Warn("chat/dispatcher: archive image", "turn", turnID, "error", err)
		} else {
			out = archived
		}
	}
	attached := false
	d.Store.Update(turnID, func(t Turn) Turn {
		if t.Role == RoleModel {
			t.Images = append(t.Images, out)
			attached = true
		}
		return t
	})
	if !attached {
		return ResultImageFailed
	}
	return ResultImageGenerated
}

// decodeArgs converts loosely typed arguments into Args. Malformed arguments
// decode to the zero value.
func decodeArgs[Args any](inv *ToolInvocation) Args {
	var v Args
	if len(inv.Args) == 0 {
		return v
	}
	b, err := json.Marshal(inv.Args)
	if err != nil {
		slog.Warn("chat/dispatcher: marshal args", "tool", inv.Name, "error", err)
		return v
	}
	if err := json.Unmarshal(b, &v); err != nil {
		slog.Warn("chat/dispatcher: unmarshal args", "tool", inv.Name, "error", err)
		var zero Args
		return zero
	}
	return v
}
