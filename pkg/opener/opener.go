// Package opener implements chat.LinkOpener: Browser hands links to the
// desktop browser, Printer writes them out for headless use.
package opener

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"
	"sync"

	"github.com/haivivi/gizchat/pkg/chat"
)

var (
	_ chat.LinkOpener = (*Browser)(nil)
	_ chat.LinkOpener = (*Printer)(nil)
)

// Browser opens links with the platform launcher (open, xdg-open or
// rundll32) or with Command when set.
type Browser struct {
	// Command replaces the platform launcher; the link is appended as the
	// last argument.
	Command []string

	// start overrides process start in tests.
	start func(name string, args ...string) error
}

func (b *Browser) Open(link string) error {
	if err := check(link); err != nil {
		return err
	}
	name, args := b.command()
	if name == "" {
		return fmt.Errorf("opener: no browser launcher for %s", runtime.GOOS)
	}
	args = append(args, link)
	start := b.start
	if start == nil {
		start = startDetached
	}
	if err := start(name, args...); err != nil {
		return fmt.Errorf("opener: %s: %w", name, err)
	}
	slog.Debug("opener: opened", "url", link, "with", name)
	return nil
}

func (b *Browser) command() (string, []string) {
	if len(b.Command) > 0 {
		return b.Command[0], append([]string(nil), b.Command[1:]...)
	}
	switch runtime.GOOS {
	case "darwin":
		return "open", nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler"}
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", nil
	}
	return "", nil
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// Printer writes each link on its own line and remembers it.
type Printer struct {
	W io.Writer

	mu   sync.Mutex
	urls []string
}

func (p *Printer) Open(link string) error {
	if err := check(link); err != nil {
		return err
	}
	p.mu.Lock()
	p.urls = append(p.urls, link)
	p.mu.Unlock()
	if p.W != nil {
		_, err := fmt.Fprintf(p.W, "open: %s\n", link)
		return err
	}
	return nil
}

// URLs returns the links opened so far.
func (p *Printer) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

// check accepts absolute http and https links only.
func check(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("opener: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("opener: only http and https links can be opened")
	}
	return nil
}
