package cli

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Status(ctx context.Context) error
	SwitchTenant(ctx context.Context, tenantID string) error
	SetUser(ctx context.Context, userID string) error
	RecordProgress(ctx context.Context, courseID, lessonID string, percent int, done bool) error
	MyProgress(ctx context.Context) error
	Pending(ctx context.Context) error
	Courses(ctx context.Context) error
	Agenda(ctx context.Context) error
	Sync(ctx context.Context) error
	Cache(ctx context.Context, op, key string, rest []string) error
	Install(ctx context.Context) error
	Notify(ctx context.Context) error
}

const helpText = `Available commands:
  status                                  show mode, tenant, user and pending count
  tenant <id>                             switch the active tenant
  user <id>                               set the active user
  progress <course> <lesson> <pct> [done] record lesson progress
  myprogress                              list your recorded progress
  pending                                 count unsynced progress
  courses                                 list courses
  agenda                                  list your agenda
  sync                                    push pending progress and refresh caches
  cache put|get|del <key> [json] [ttl]    tenant-scoped offline data
  install                                 keep churchkeeper installed for offline use
  notify                                  ask for notification permission
  exit | quit                             leave the program`

// runREPL starts a simple read–eval–print loop for the churchkeeper CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Argument counts and numbers are
// checked here; everything else is up to the handler. The loop exits on
// scanner EOF, on context cancellation, or when the user types "exit" or
// "quit".
//
// Any errors returned by command handlers are ignored here; handlers print
// and log their own errors.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("ck %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "status":
			_ = a.Status(ctx)

		case "tenant":
			if len(args) != 1 {
				printlnFn("Usage: tenant <id>")
				continue
			}
			_ = a.SwitchTenant(ctx, args[0])

		case "user":
			if len(args) != 1 {
				printlnFn("Usage: user <id>")
				continue
			}
			_ = a.SetUser(ctx, args[0])

		case "progress":
			course, lesson, pct, done, ok := parseProgress(args)
			if !ok {
				printlnFn("Usage: progress <course> <lesson> <0-100> [done]")
				continue
			}
			_ = a.RecordProgress(ctx, course, lesson, pct, done)

		case "myprogress":
			_ = a.MyProgress(ctx)

		case "pending":
			_ = a.Pending(ctx)

		case "courses":
			_ = a.Courses(ctx)

		case "agenda":
			_ = a.Agenda(ctx)

		case "sync":
			_ = a.Sync(ctx)

		case "cache":
			if len(args) < 2 {
				printlnFn("Usage: cache put|get|del <key> [json] [ttl]")
				continue
			}
			_ = a.Cache(ctx, args[0], args[1], args[2:])

		case "install":
			_ = a.Install(ctx)

		case "notify":
			_ = a.Notify(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}

func parseProgress(args []string) (course, lesson string, pct int, done, ok bool) {
	if len(args) < 3 || len(args) > 4 {
		return "", "", 0, false, false
	}
	pct, err := strconv.Atoi(args[2])
	if err != nil {
		return "", "", 0, false, false
	}
	if len(args) == 4 {
		if args[3] != "done" {
			return "", "", 0, false, false
		}
		done = true
	}
	return args[0], args[1], pct, done, true
}
