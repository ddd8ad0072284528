// Package shell provides the interactive research shell. Each command maps to
// a Handler method so the same operations back both the REPL and the
// one-shot CLI commands.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"researchshell/internal/controller"
	"researchshell/internal/logger"
	"researchshell/internal/render"
	"researchshell/internal/trace"
	"researchshell/pkg/researchtypes"
)

// ErrNoAnswer is returned by Copy when the selected conversation has no answer yet.
var ErrNoAnswer = errors.New("selected conversation has no answer yet")

// Options wires a Handler.
type Options struct {
	Controller   *controller.Controller
	Renderer     *render.Renderer
	Output       io.Writer
	ExportDir    string
	ExportFormat trace.Format
	// Confirm asks a yes/no question. Defaults to refusing.
	Confirm func(prompt string) bool
	// Copy writes text to the clipboard. Defaults to the system clipboard.
	Copy func(text string) error
}

// Handler executes shell commands against a controller.
type Handler struct {
	ctrl         *controller.Controller
	renderer     *render.Renderer
	out          io.Writer
	exportDir    string
	exportFormat trace.Format
	confirm      func(prompt string) bool
	copy         func(text string) error
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.Renderer == nil {
		opts.Renderer = render.New(render.Options{Output: opts.Output})
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	if opts.ExportFormat == "" {
		opts.ExportFormat = trace.FormatJSON
	}
	if opts.Confirm == nil {
		opts.Confirm = func(string) bool { return false }
	}
	if opts.Copy == nil {
		opts.Copy = writeToClipboard
	}
	return &Handler{
		ctrl:         opts.Controller,
		renderer:     opts.Renderer,
		out:          opts.Output,
		exportDir:    opts.ExportDir,
		exportFormat: opts.ExportFormat,
		confirm:      opts.Confirm,
		copy:         opts.Copy,
	}
}

// Ask submits a question in the selected conversation and blocks until the
// session ends or ctx is cancelled. Progress is printed by the observer.
func (h *Handler) Ask(ctx context.Context, text string) error {
	id := h.ctrl.Store().SelectedID()
	if err := h.ctrl.Submit(ctx, id, text); err != nil {
		if errors.Is(err, researchtypes.ErrInvalidState) && !errors.Is(err, researchtypes.ErrEmptyQuery) {
			if conv, getErr := h.ctrl.Store().Get(id); getErr == nil && conv.Completed {
				return fmt.Errorf("%w (use 'new' to ask another question)", err)
			}
		}
		return err
	}

	if err := h.ctrl.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}

// New starts a fresh conversation and selects it.
func (h *Handler) New() error {
	conv, err := h.ctrl.NewQuestion()
	if err != nil {
		return err
	}
	h.println(h.renderer.Conversation(conv))
	return nil
}

// List prints every conversation, most recent first.
func (h *Handler) List() error {
	s := h.ctrl.Store()
	h.println(h.renderer.ConversationList(s.List(), s.SelectedID()))
	return nil
}

// Select selects a conversation by 1-based list index, id or unique id prefix.
func (h *Handler) Select(ref string) error {
	id, err := h.resolve(ref)
	if err != nil {
		return err
	}
	if err := h.ctrl.Select(id); err != nil {
		return err
	}
	return h.Show("")
}

// Show prints a conversation; an empty ref shows the selected one.
func (h *Handler) Show(ref string) error {
	id, err := h.resolve(ref)
	if err != nil {
		return err
	}
	conv, err := h.ctrl.Store().Get(id)
	if err != nil {
		return err
	}
	h.println(h.renderer.Conversation(conv))
	return nil
}

// Delete removes a conversation after confirmation.
func (h *Handler) Delete(ref string, confirmed bool) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("usage: delete <index|id>")
	}
	id, err := h.resolve(ref)
	if err != nil {
		return err
	}
	conv, err := h.ctrl.Store().Get(id)
	if err != nil {
		return err
	}

	if !confirmed && !h.confirm(fmt.Sprintf("Delete %q? [y/N] ", conv.Title)) {
		h.println("Cancelled.")
		return nil
	}
	if err := h.ctrl.Delete(id); err != nil {
		return err
	}
	logger.Debug("Conversation deleted", "conversation", id)
	h.println("Deleted " + conv.Title)
	return nil
}

// Steps prints the progress of the most recent session.
func (h *Handler) Steps() error {
	snapshot, ok := h.ctrl.ActiveSnapshot()
	if !ok {
		h.println("No research has run in this shell yet.")
		return nil
	}
	h.println(h.renderer.Steps(snapshot.Steps))
	return nil
}

// Status prints the state of the most recent session.
func (h *Handler) Status() error {
	snapshot, ok := h.ctrl.ActiveSnapshot()
	if !ok {
		h.println(h.renderer.Status(researchtypes.SessionIdle))
		return nil
	}
	line := fmt.Sprintf("%s %s, %d step(s)", h.renderer.Status(snapshot.Status), snapshot.ConversationID, len(snapshot.Steps))
	h.println(line)
	return nil
}

// Export writes the debug trace of the current session. An empty format uses
// the configured one.
func (h *Handler) Export(format string) error {
	f := h.exportFormat
	if strings.TrimSpace(format) != "" {
		parsed, err := trace.ParseFormat(format)
		if err != nil {
			return err
		}
		f = parsed
	}
	path, err := h.ctrl.ExportDebug(h.exportDir, f)
	if err != nil {
		return err
	}
	h.println("Debug trace written to " + path)
	return nil
}

// Copy puts the last answer of the selected conversation on the clipboard.
// Where no clipboard is available the answer is printed instead.
func (h *Handler) Copy() error {
	conv, err := h.ctrl.Store().Selected()
	if err != nil {
		return err
	}
	msg, ok := conv.LastBotMessage()
	if !ok {
		return ErrNoAnswer
	}
	if err := h.copy(msg.Text); err != nil {
		logger.Debug("Clipboard write failed", "error", err)
		h.println("Clipboard unavailable (" + err.Error() + "); answer follows:")
		h.println(msg.Text)
		return nil
	}
	h.println(fmt.Sprintf("Copied %d characters to clipboard", len([]rune(msg.Text))))
	return nil
}

// Report prints an error for the user.
func (h *Handler) Report(err error) {
	if err != nil {
		h.println(h.renderer.Error(err))
	}
}

// resolve turns a list index, id or unique id prefix into a conversation id.
// An empty ref is the selected conversation.
func (h *Handler) resolve(ref string) (string, error) {
	s := h.ctrl.Store()
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return s.SelectedID(), nil
	}

	convs := s.List()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(convs) {
			return "", fmt.Errorf("no conversation at index %d (have %d)", n, len(convs))
		}
		return convs[n-1].ID, nil
	}

	var match string
	for _, conv := range convs {
		if conv.ID == ref {
			return ref, nil
		}
		if strings.HasPrefix(conv.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("ambiguous conversation id prefix %q", ref)
			}
			match = conv.ID
		}
	}
	if match == "" {
		return "", researchtypes.NewStateError("resolve", ref, "conversation not found", researchtypes.ErrNotFound)
	}
	return match, nil
}

func (h *Handler) println(s string) {
	fmt.Fprintln(h.out, s)
}
