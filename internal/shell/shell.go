package shell

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/abiosoft/ishell/v2"
)

// Prompt is shown before every input line.
const Prompt = "research> "

// New builds the interactive shell. Input that is not a command is asked as
// a question. Ctrl-C while a question is running cancels it.
func New(ctx context.Context, h *Handler) *ishell.Shell {
	sh := ishell.New()
	sh.SetPrompt(Prompt)

	h.confirm = func(prompt string) bool {
		sh.Print(prompt)
		return isYes(sh.ReadLine())
	}

	ask := func(args []string) {
		askCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		h.Report(h.Ask(askCtx, strings.Join(args, " ")))
	}

	sh.AddCmd(&ishell.Cmd{
		Name: "ask",
		Help: "ask <question>: research a question in the selected conversation",
		Func: func(c *ishell.Context) { ask(c.Args) },
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "new",
		Help: "start a new question",
		Func: func(_ *ishell.Context) { h.Report(h.New()) },
	})
	sh.AddCmd(&ishell.Cmd{
		Name:    "list",
		Aliases: []string{"ls"},
		Help:    "list conversations, most recent first",
		Func:    func(_ *ishell.Context) { h.Report(h.List()) },
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "select",
		Help: "select <index|id>: switch to another conversation",
		Func: func(c *ishell.Context) { h.Report(h.Select(firstArg(c.Args))) },
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "show",
		Help: "show [index|id]: print a conversation",
		Func: func(c *ishell.Context) { h.Report(h.Show(firstArg(c.Args))) },
	})
	sh.AddCmd(&ishell.Cmd{
		Name:    "delete",
		Aliases: []string{"rm"},
		Help:    "delete <index|id>: delete a conversation",
		Func:    func(c *ishell.Context) { h.Report(h.Delete(firstArg(c.Args), false)) },
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "steps",
		Help: "print the progress steps of the current research",
		Func: func(_ *ishell.Context) { h.Report(h.Steps()) },
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "print the state of the current research",
		Func: func(_ *ishell.Context) { h.Report(h.Status()) },
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "export",
		Help: "export [json|yaml]: write the debug trace of the current research",
		Func: func(c *ishell.Context) { h.Report(h.Export(firstArg(c.Args))) },
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "copy",
		Help: "copy the last answer to the clipboard",
		Func: func(_ *ishell.Context) { h.Report(h.Copy()) },
	})

	sh.NotFound(func(c *ishell.Context) {
		if len(c.RawArgs) == 0 {
			return
		}
		ask(c.RawArgs)
	})

	return sh
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
