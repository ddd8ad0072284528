// Package render turns conversations, progress steps and answers into
// terminal text. Answers are markdown rendered with glamour; everything else
// is styled with the active lipgloss theme.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"researchshell/internal/logger"
	"researchshell/pkg/researchtypes"
)

// Markdown styles understood by glamour. StyleAuto is resolved against the
// output terminal.
const (
	StyleAuto  = "auto"
	StyleDark  = "dark"
	StyleLight = "light"
	StyleNoTTY = "notty"
	StyleASCII = "ascii"
)

// DefaultWordWrap is used when Options.WordWrap is zero.
const DefaultWordWrap = 100

// listTitleWidth bounds titles in conversation lists, in display cells.
const listTitleWidth = 48

// Options configures a Renderer.
type Options struct {
	Style    string
	WordWrap int
	// Output is inspected when Style is auto. Defaults to os.Stdout.
	Output io.Writer
}

// Renderer formats domain values for the terminal. It is safe for concurrent
// use once created.
type Renderer struct {
	style    string
	theme    *Theme
	markdown *glamour.TermRenderer
}

// ResolveStyle maps a configured style to a concrete glamour style. Unknown
// styles and auto are resolved from the terminal: no color support gives
// notty, otherwise the background decides between dark and light.
func ResolveStyle(style string, out io.Writer) string {
	switch s := strings.ToLower(strings.TrimSpace(style)); s {
	case StyleDark, StyleLight, StyleNoTTY, StyleASCII:
		return s
	}

	if out == nil {
		out = os.Stdout
	}
	output := termenv.NewOutput(out)
	if output.Profile == termenv.Ascii {
		return StyleNoTTY
	}
	if output.HasDarkBackground() {
		return StyleDark
	}
	return StyleLight
}

// New creates a Renderer. A markdown renderer that cannot be built is not an
// error: answers are then printed as raw text.
func New(opts Options) *Renderer {
	style := ResolveStyle(opts.Style, opts.Output)
	wrap := opts.WordWrap
	if wrap <= 0 {
		wrap = DefaultWordWrap
	}

	themeName := ThemeDefault
	if style == StyleNoTTY || style == StyleASCII {
		themeName = ThemePlain
	}

	r := &Renderer{
		style: style,
		theme: themeOrFallback(themeName),
	}

	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		logger.Debug("Markdown renderer unavailable, using raw text", "style", style, "error", err)
	} else {
		r.markdown = md
	}
	return r
}

// Style returns the resolved markdown style.
func (r *Renderer) Style() string {
	return r.style
}

// Theme returns the active theme.
func (r *Renderer) Theme() *Theme {
	return r.theme
}

// Markdown renders markdown text, falling back to the text itself.
func (r *Renderer) Markdown(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if r.markdown == nil {
		return text
	}
	out, err := r.markdown.Render(text)
	if err != nil {
		logger.Debug("Failed to render markdown", "error", err)
		return text
	}
	return strings.Trim(out, "\n")
}

// Status renders a session status badge.
func (r *Renderer) Status(status researchtypes.SessionStatus) string {
	label := "[" + string(status) + "]"
	switch status {
	case researchtypes.SessionCompleted:
		return r.theme.Definitive.Render(label)
	case researchtypes.SessionErrored:
		return r.theme.Error.Render(label)
	case researchtypes.SessionSubmitted, researchtypes.SessionStreaming:
		return r.theme.Step.Render(label)
	default:
		return r.theme.Muted.Render(label)
	}
}

// Step renders one progress step.
func (r *Renderer) Step(step researchtypes.ProgressStep) string {
	var sb strings.Builder
	sb.WriteString(r.theme.Step.Render(step.StepLabel))
	sb.WriteString(" ")
	sb.WriteString(r.theme.Action.Render(step.ActionSummary))
	if step.ThoughtsSummary != "" {
		sb.WriteString("\n  ")
		sb.WriteString(r.theme.Thoughts.Render(step.ThoughtsSummary))
	}
	return sb.String()
}

// Steps renders the progress of a session, oldest first.
func (r *Renderer) Steps(steps []researchtypes.ProgressStep) string {
	if len(steps) == 0 {
		return r.theme.Muted.Render("No progress yet.")
	}
	lines := make([]string, 0, len(steps))
	for _, step := range steps {
		lines = append(lines, r.Step(step))
	}
	return strings.Join(lines, "\n")
}

// Message renders a user or bot message.
func (r *Renderer) Message(msg researchtypes.Message) string {
	if !msg.IsBot() {
		return r.theme.Question.Render("? " + msg.Text)
	}
	return r.Answer(msg)
}

// Answer renders a bot message: the markdown body, the evaluation badge, the
// numbered references and the thoughts that led to it.
func (r *Renderer) Answer(msg researchtypes.Message) string {
	sections := []string{r.Markdown(msg.Text)}

	if msg.Evaluation != nil {
		sections = append(sections, r.evaluation(*msg.Evaluation))
	}
	if len(msg.References) > 0 {
		sections = append(sections, r.references(msg.References))
	}
	if msg.Thoughts != "" {
		sections = append(sections, r.theme.Thoughts.Render("Thoughts: "+msg.Thoughts))
	}

	out := sections[:0]
	for _, s := range sections {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}

func (r *Renderer) evaluation(ev researchtypes.Evaluation) string {
	badge := r.theme.Tentative.Render("Tentative")
	if ev.Definitive {
		badge = r.theme.Definitive.Render("Definitive")
	}
	if ev.Reason == "" {
		return badge
	}
	return badge + " " + r.theme.Muted.Render(ev.Reason)
}

func (r *Renderer) references(refs []researchtypes.Reference) string {
	lines := []string{r.theme.Title.Render("References")}
	for i, ref := range refs {
		url := ref.URL
		if url == researchtypes.ReferencePlaceholderURL {
			url = "(no link)"
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, r.theme.Reference.Render(url)))
		if ref.ExactQuote != "" {
			lines = append(lines, "   "+r.theme.Quote.Render(fmt.Sprintf("%q", ref.ExactQuote)))
		}
	}
	return strings.Join(lines, "\n")
}

// Conversation renders a conversation header followed by its messages.
func (r *Renderer) Conversation(conv researchtypes.Conversation) string {
	header := r.theme.Title.Render(conv.Title)
	if conv.Completed {
		header += " " + r.theme.Muted.Render("(completed)")
	}

	parts := []string{header}
	if len(conv.Messages) == 0 {
		parts = append(parts, r.theme.Muted.Render("No messages yet. Ask a question to begin."))
	}
	for _, msg := range conv.Messages {
		parts = append(parts, r.Message(msg))
	}
	return strings.Join(parts, "\n\n")
}

// ConversationList renders conversations with their 1-based index, marking
// the selected one.
func (r *Renderer) ConversationList(convs []researchtypes.Conversation, selectedID string) string {
	if len(convs) == 0 {
		return r.theme.Muted.Render("No conversations.")
	}

	lines := make([]string, 0, len(convs))
	for i, conv := range convs {
		marker := "  "
		if conv.ID == selectedID {
			marker = "* "
		}
		title := ansi.Truncate(conv.Title, listTitleWidth, "…")
		line := fmt.Sprintf("%s%2d. %s %s", marker, i+1, title, r.theme.Muted.Render(shortID(conv.ID)))
		if conv.Completed {
			line += " " + r.theme.Muted.Render("✓")
		}
		if conv.ID == selectedID {
			line = r.theme.Selected.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Error renders an error for the user.
func (r *Renderer) Error(err error) string {
	return r.theme.Error.Render("Error: " + err.Error())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
