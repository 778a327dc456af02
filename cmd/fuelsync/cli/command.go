package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const usage = `usage: fuelsync jobs <command>
  trigger <job>        enqueue a maintenance job (%s)
  stats [queue]        show queue counters
  archived [size]      list audit events that exhausted their retries
  replay-audit         re-run every archived audit event
`

// RunJobsCommand executes a jobs subcommand and returns the process exit code.
func RunJobsCommand(ctx context.Context, redisAddr string, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintf(stderr, usage, strings.Join(Triggerable(), ", "))
		return 2
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "trigger":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "jobs trigger: exactly one job name is required")
			return 2
		}
		if _, err := taskFor(rest[0]); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
	case "stats", "replay-audit":
	case "archived":
		if len(rest) == 1 {
			if _, err := strconv.Atoi(rest[0]); err != nil {
				fmt.Fprintf(stderr, "jobs archived: invalid size %q\n", rest[0])
				return 2
			}
		}
	default:
		fmt.Fprintf(stderr, usage, strings.Join(Triggerable(), ", "))
		return 2
	}

	c, err := NewJobsCLI(redisAddr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer c.Close()

	var out any
	switch cmd {
	case "trigger":
		info, err := c.Trigger(ctx, rest[0])
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		out = map[string]string{"id": info.ID, "queue": info.Queue, "type": info.Type}
	case "stats":
		queue := ""
		if len(rest) > 0 {
			queue = rest[0]
		}
		stats, err := c.InspectQueue(ctx, queue)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		out = stats
	case "archived":
		size := 0
		if len(rest) == 1 {
			size, _ = strconv.Atoi(rest[0])
		}
		tasks, err := c.ListArchivedAudit(ctx, size)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		ids := make([]map[string]string, 0, len(tasks))
		for _, t := range tasks {
			ids = append(ids, map[string]string{"id": t.ID, "last_error": t.LastErr})
		}
		out = ids
	case "replay-audit":
		n, err := c.ReplayArchivedAudit(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		out = map[string]int{"replayed": n}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
