package shell

import (
	"fmt"
	"io"
	"sync"

	"researchshell/internal/render"
	"researchshell/pkg/researchtypes"
)

// Observer prints session progress as it arrives. It implements
// researchtypes.SessionObserver.
type Observer struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *render.Renderer
}

// NewObserver creates an observer writing to out.
func NewObserver(out io.Writer, renderer *render.Renderer) *Observer {
	return &Observer{out: out, renderer: renderer}
}

// OnStatus prints transitions the user would otherwise not see. Completed and
// errored sessions announce themselves through their bot message.
func (o *Observer) OnStatus(_ string, status researchtypes.SessionStatus) {
	switch status {
	case researchtypes.SessionSubmitted:
		o.println(o.renderer.Status(status) + " Researching...")
	case researchtypes.SessionCancelled:
		o.println(o.renderer.Status(status))
	}
}

// OnProgress prints a progress step.
func (o *Observer) OnProgress(_ string, step researchtypes.ProgressStep) {
	o.println(o.renderer.Step(step))
}

// OnMessage prints the final bot message.
func (o *Observer) OnMessage(_ string, msg researchtypes.Message) {
	o.println("\n" + o.renderer.Answer(msg))
}

func (o *Observer) println(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.out, s)
}
