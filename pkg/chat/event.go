package chat

import "fmt"

var (
	_ Event = TextDelta("")
	_ Event = GroundingDelta(nil)
	_ Event = (*ToolInvocation)(nil)
	_ Event = End{}
)

// Event is one element of a response stream. The set of variants is closed:
// TextDelta, GroundingDelta, *ToolInvocation and End.
type Event interface {
	isEvent()
}

// TextDelta is a fragment of model text.
type TextDelta string

func (TextDelta) isEvent() {}

// GroundingDelta carries citation fragments in arrival order.
type GroundingDelta []GroundingChunk

func (GroundingDelta) isEvent() {}

// ToolInvocation is a request from the model to perform a side effect. The
// result must be sent back with Stream.Reply before the stream continues.
type ToolInvocation struct {
	ID   string
	Name string
	Args map[string]any
}

func (*ToolInvocation) isEvent() {}

func (ti *ToolInvocation) String() string {
	return fmt.Sprintf("%s(%v)", ti.Name, ti.Args)
}

// End marks the explicit end of a stream.
type End struct{}

func (End) isEvent() {}
