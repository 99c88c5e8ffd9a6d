package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Add(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Pause(ctx context.Context, args []string) error
	Resume(ctx context.Context, args []string) error
	Cancel(ctx context.Context, args []string) error
	Retry(ctx context.Context, args []string) error
	Stats(ctx context.Context, args []string) error
	Play(ctx context.Context, args []string) error
	Read(ctx context.Context, args []string) error
	Remove(ctx context.Context, args []string) error
	Sweep(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  add <manifest.yaml> [--priority N] [--force] [--compress]   queue a course download
  (l)ist                                                      show download tasks
  pause <task>                                                pause a task
  resume <task> [--boost N]                                   resume a paused task
  cancel <task> [--delete]                                    cancel a task
  retry <task>                                                retry a failed task
  stats                                                       show vault usage
  play <artifact>                                             print a local stream URL
  read <artifact>                                             print cached text
  remove <course> [--yes]                                     drop a course from the vault
  sweep                                                       run vault maintenance now
  exit | quit                                                 leave the program`

// runREPL starts a simple read-eval-print loop for the coursekeeper CLI.
//
// It prompts on w with the current status (from statusFn), reads a line from
// reader, parses the first token as the command and dispatches the rest as
// arguments to methods on a. Errors returned by handlers are printed and the
// loop goes on. The loop exits on EOF, when ctx is done, or when the user
// types "exit" or "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := GetSimpleText(reader, fmt.Sprintf("ck [%s]>", statusFn()), w)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var handler func(context.Context, []string) error
		switch cmd {
		case "help":
			printlnFn(helpText)
			continue
		case "add":
			handler = a.Add
		case "l", "list":
			handler = a.List
		case "pause":
			handler = a.Pause
		case "resume":
			handler = a.Resume
		case "cancel":
			handler = a.Cancel
		case "retry":
			handler = a.Retry
		case "stats":
			handler = a.Stats
		case "play":
			handler = a.Play
		case "read":
			handler = a.Read
		case "remove":
			handler = a.Remove
		case "sweep":
			handler = a.Sweep
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
			continue
		}

		if err := handler(ctx, args); err != nil {
			printlnFn("Error:", err)
		}
	}
}
