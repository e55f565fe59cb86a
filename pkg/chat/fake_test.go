package chat

import (
	"context"
	"errors"
	"io"
	"sync"
)

// step is one scripted element of a fake stream: an event or an error.
type step struct {
	evt Event
	err error
}

type fakeRemote struct {
	mu      sync.Mutex
	err     error
	configs []SessionConfig
	tools   []ToolSpec
	convs   []*fakeConversation
	script  func(text string) (*fakeStream, error)
}

func (r *fakeRemote) NewConversation(_ context.Context, cfg SessionConfig, tools []ToolSpec) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
	if r.err != nil {
		return nil, r.err
	}
	r.tools = tools
	conv := &fakeConversation{script: r.script}
	r.convs = append(r.convs, conv)
	return conv, nil
}

func (r *fakeRemote) conversations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

type fakeConversation struct {
	mu     sync.Mutex
	sent   []string
	script func(text string) (*fakeStream, error)
}

func (c *fakeConversation) SendStream(_ context.Context, text string, _ []Image) (Stream, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	if c.script == nil {
		return newFakeStream(), nil
	}
	s, err := c.script(text)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type fakeStream struct {
	mu      sync.Mutex
	steps   []step
	pending *ToolInvocation
	replies map[string]string
	closed  bool

	// onNext runs before each step is returned.
	onNext func(i int)
	i      int
}

func newFakeStream(steps ...step) *fakeStream {
	return &fakeStream{steps: steps, replies: make(map[string]string)}
}

func events(evts ...Event) []step {
	out := make([]step, len(evts))
	for i, e := range evts {
		out[i] = step{evt: e}
	}
	return out
}

func (s *fakeStream) Next() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return nil, errors.New("fake: tool invocation not answered")
	}
	if s.i >= len(s.steps) {
		return nil, io.EOF
	}
	if s.onNext != nil {
		s.onNext(s.i)
	}
	st := s.steps[s.i]
	s.i++
	if st.err != nil {
		return nil, st.err
	}
	if inv, ok := st.evt.(*ToolInvocation); ok {
		s.pending = inv
	}
	return st.evt, nil
}

func (s *fakeStream) Reply(inv *ToolInvocation, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != inv {
		return errors.New("fake: unexpected reply")
	}
	s.pending = nil
	s.replies[inv.ID] = result
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *fakeOpener) Open(u string) error {
	o.mu.Lock()
	o.urls = append(o.urls, u)
	o.mu.Unlock()
	return nil
}

type fakeImages struct {
	img     *Image
	err     error
	prompts []string
}

func (g *fakeImages) GenerateImage(_ context.Context, prompt string) (*Image, error) {
	g.prompts = append(g.prompts, prompt)
	return g.img, g.err
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
	rates  []float64
	stops  int
	spoke  chan struct{}
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{spoke: make(chan struct{}, 16)}
}

func (s *fakeSpeaker) Speak(text string, rate float64) {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.rates = append(s.rates, rate)
	s.mu.Unlock()
	s.spoke <- struct{}{}
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSpeaker) snapshot() (spoken []string, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...), s.stops
}

type fakeLive struct {
	enterErr error
	entered  int
	exited   int
}

func (l *fakeLive) Enter(context.Context) error {
	if l.enterErr != nil {
		return l.enterErr
	}
	l.entered++
	return nil
}

func (l *fakeLive) Exit(context.Context) error {
	l.exited++
	return nil
}

// blockingLive holds Enter until release is closed.
type blockingLive struct {
	entering chan struct{}
	release  chan struct{}
}

func newBlockingLive() *blockingLive {
	return &blockingLive{entering: make(chan struct{}), release: make(chan struct{})}
}

func (l *blockingLive) Enter(ctx context.Context) error {
	close(l.entering)
	select {
	case <-l.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *blockingLive) Exit(context.Context) error { return nil }

// countStreaming returns the number of streaming turns.
func countStreaming(turns []Turn) int {
	n := 0
	for _, t := range turns {
		if t.Streaming {
			n++
		}
	}
	return n
}
