package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haivivi/gizchat/pkg/chat"
	"github.com/haivivi/gizchat/pkg/gallery"
)

var testPNG = []byte("\x89PNG\r\n\x1a\nfake image")

// generateTestImage asks the scripted model for a picture and returns the
// name of the archived image.
func generateTestImage(t *testing.T) string {
	t.Helper()
	r := setupTestRemote(t)
	r.Image = &chat.Image{MIMEType: "image/png", Data: testPNG}
	r.Reply = func(string) []chat.Event {
		return []chat.Event{
			&chat.ToolInvocation{ID: "1", Name: string(chat.ToolGenerateImage), Args: map[string]any{"prompt": "a gopher"}},
			chat.TextDelta("Here you go."),
		}
	}
	stdout, stderr, code := runCmd(t, "ask", "-o", "json", "--jq", ".[-1].images[0].path", "draw a gopher")
	if code != 0 {
		t.Fatalf("ask: exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, ".png") {
		t.Fatalf("image path %q", stdout)
	}

	stdout, stderr, code = runCmd(t, "images", "list", "-o", "json")
	if code != 0 {
		t.Fatalf("list: exit %d: %s", code, stderr)
	}
	var entries []gallery.Entry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].MIMEType != "image/png" || entries[0].Size != len(testPNG) {
		t.Fatalf("entry = %+v", entries[0])
	}
	return entries[0].Name
}

func TestImagesListEmpty(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "images", "list", "-o", "text")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "No images") {
		t.Fatalf("got %q", stdout)
	}

	stdout, _, code = runCmd(t, "images", "list", "-o", "json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if strings.TrimSpace(stdout) != "[]" {
		t.Fatalf("got %q", stdout)
	}
}

func TestImagesGetAndDelete(t *testing.T) {
	name := generateTestImage(t)

	out := filepath.Join(t.TempDir(), "gopher.png")
	if _, stderr, code := runCmd(t, "images", "get", name, "-O", out); code != 0 {
		t.Fatalf("get: %s", stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, testPNG) {
		t.Fatalf("got %q", data)
	}

	stdout, _, code := runCmd(t, "images", "list", "-o", "text")
	if code != 0 || !strings.Contains(stdout, name) {
		t.Fatalf("list: %q", stdout)
	}

	if _, stderr, code := runCmd(t, "images", "delete", name); code != 0 {
		t.Fatalf("delete: %s", stderr)
	}
	stdout, _, _ = runCmd(t, "images", "list", "-o", "json")
	if strings.TrimSpace(stdout) != "[]" {
		t.Fatalf("after delete: %q", stdout)
	}
	if _, _, code := runCmd(t, "images", "get", name); code == 0 {
		t.Fatal("get after delete should fail")
	}
}

func TestImagesGetInvalidName(t *testing.T) {
	setupTestEnv(t)

	_, _, code := runCmd(t, "images", "get", "../../etc/passwd")
	if code == 0 {
		t.Fatal("expected failure")
	}
}
