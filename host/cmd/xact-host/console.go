package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"

	"xactlink/host/report"
	"xactlink/host/xact"
	"xactlink/protocol"
)

var errUsage = errors.New("usage")

// console executes one line of operator input against a client
type console struct {
	client  *xact.Client
	out     io.Writer
	format  string
	timeout time.Duration
	quit    func()
}

func newConsole(client *xact.Client, out io.Writer, format string) *console {
	return &console{
		client:  client,
		out:     out,
		format:  format,
		timeout: 5 * time.Second,
		quit:    func() {},
	}
}

var suggestions = []prompt.Suggest{
	{Text: "read", Description: "request telemetry and print it"},
	{Text: "snapshot", Description: "print the last decoded telemetry"},
	{Text: "write", Description: "write <addr> <hex bytes>"},
	{Text: "peek", Description: "peek [raw] <addr> <len>: checksummed (or raw) register read"},
	{Text: "history", Description: "sun sensor diode history"},
	{Text: "health", Description: "link statistics"},
	{Text: "help", Description: "list commands"},
	{Text: "quit", Description: "exit"},
}

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

// executor adapts execute to go-prompt, printing errors instead of
// returning them
func (c *console) executor(ctx context.Context) func(string) {
	return func(line string) {
		if err := c.execute(ctx, line); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

func (c *console) execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch parts[0] {
	case "quit", "exit", "q":
		c.quit()
		return nil

	case "help", "?":
		c.printHelp()
		return nil

	case "read":
		rep, err := c.client.RequestTelemetry(ctx)
		if err != nil {
			return err
		}
		if len(rep.OutOfRange) > 0 {
			fmt.Fprintf(c.out, "%d points outside the telemetry window\n", len(rep.OutOfRange))
		}
		return c.printSnapshot()

	case "snapshot":
		return c.printSnapshot()

	case "write":
		if len(parts) != 3 {
			return fmt.Errorf("%w: write <addr> <hex bytes>", errUsage)
		}
		addr, err := parseAddress(parts[1])
		if err != nil {
			return err
		}
		body, err := hex.DecodeString(parts[2])
		if err != nil {
			return fmt.Errorf("bad body %q: %w", parts[2], err)
		}
		if err := c.client.WriteRegisters(ctx, addr, body); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "wrote %d bytes at 0x%04X\n", len(body), addr)
		return nil

	case "peek":
		args := parts[1:]
		raw := len(args) > 0 && args[0] == "raw"
		if raw {
			args = args[1:]
		}
		if len(args) != 2 {
			return fmt.Errorf("%w: peek [raw] <addr> <len>", errUsage)
		}
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		n, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil || n == 0 {
			return fmt.Errorf("bad length %q", args[1])
		}

		var data []byte
		if raw {
			data, err = c.client.ReadRaw(ctx, addr, uint16(n))
		} else {
			var frame protocol.ValidatedFrame
			frame, err = c.client.ReadRegisters(ctx, addr, uint16(n))
			data = frame.Payload
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "0x%04X: % x\n", addr, data)
		return nil

	case "history":
		return report.WriteHistory(c.out, c.client.History())

	case "health":
		h := c.client.Health()
		fmt.Fprintf(c.out, "frames=%d misses=%d consecutive=%d degraded=%t\n",
			h.Frames, h.Misses, h.ConsecutiveMisses, h.Degraded)
		if h.LastError != nil {
			fmt.Fprintf(c.out, "last error: %v\n", h.LastError)
		}
		return nil
	}

	return fmt.Errorf("unknown command: %s (type 'help' for available commands)", parts[0])
}

func (c *console) printSnapshot() error {
	return report.WriteSnapshot(c.out, c.client.Snapshot(), c.client.Table(), c.format)
}

func (c *console) printHelp() {
	fmt.Fprintf(c.out, "\nxact-host (protocol %s) commands:\n", protocol.Version)
	for _, s := range suggestions {
		fmt.Fprintf(c.out, "  %-10s - %s\n", s.Text, s.Description)
	}
	fmt.Fprintln(c.out)
}

func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return uint16(v), nil
}

// mainLoop runs the interactive prompt on a terminal, or executes in line
// by line otherwise. It returns after quit or when ctx ends.
func mainLoop(ctx context.Context, c *console, in *os.File) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.quit = cancel

	exec := c.executor(ctx)

	if isatty.IsTerminal(in.Fd()) {
		prompt.New(exec, c.complete,
			prompt.OptionPrefix("xact> "),
			prompt.OptionTitle("xact-host"),
			prompt.OptionSetExitCheckerOnInput(func(_ string, breakline bool) bool {
				return breakline && ctx.Err() != nil
			}),
		).Run()
		return
	}

	runLines(ctx, exec, in)
}

// runLines executes each line of r until EOF or ctx ends
func runLines(ctx context.Context, exec func(string), r io.Reader) {
	scanner := bufio.NewScanner(r)
	for ctx.Err() == nil && scanner.Scan() {
		exec(strings.TrimSpace(scanner.Text()))
	}
}
