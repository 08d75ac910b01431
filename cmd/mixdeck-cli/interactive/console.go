// Package interactive provides the interactive command-line interface
// for the MixDeck CLI.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/mixdeck-audio/mixdeck-go/pkg/ipc"
	"github.com/mixdeck-audio/mixdeck-go/pkg/version"
)

// Console handles interactive mode for mixdeck-cli.
type Console struct {
	client *ipc.Client
	rl     *readline.Instance

	// Watch control. A single watch streams changes behind the prompt;
	// all fields are touched only from the Run goroutine except
	// watchDone, which the watch goroutine closes when it exits.
	watchDevice string
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// New creates a new interactive console handler.
func New(client *ipc.Client) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mixdeck> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{
		client: client,
		rl:     rl,
	}, nil
}

// Stdout returns a writer that properly coordinates with the readline
// input. Use this for log output to avoid interfering with the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline
// input.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "devices", "list", "ls":
			c.cmdDevices(ctx)

		case "snapshot", "snap":
			c.cmdSnapshot(ctx, args)

		case "get", "read", "r":
			c.cmdGet(ctx, args)

		case "set", "write", "w":
			c.cmdSet(ctx, args)

		case "watch":
			c.cmdWatch(ctx, args)

		case "unwatch":
			c.cmdUnwatch()

		case "status":
			c.cmdStatus(ctx)

		case "ping":
			c.cmdPing(ctx)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
MixDeck Console Commands:
  Devices:
    devices                    - List tracked devices
    snapshot <device>          - Show a device's full state
    get <device> <path>        - Read one field
    set <device> <path> <val>  - Write one field

  Monitoring:
    watch <device>             - Stream field changes behind the prompt
    unwatch                    - Stop the stream

  General:
    status                     - Show daemon status
    ping                       - Check the daemon is answering
    help                       - Show this help
    quit                       - Exit the console

  Path Format:
    section.entry.field - e.g., channel.game.volume or light.fader-a.color
    A device can be given by any unique part of its serial.`)
}

// cmdDevices handles the devices/list command.
func (c *Console) cmdDevices(ctx context.Context) {
	devices, err := c.client.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "List failed: %v\n", err)
		return
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No devices")
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "\nTracked Devices (%d):\n", len(devices))
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	for _, d := range devices {
		status := d.Phase
		if d.Retained {
			status = "retained"
		}
		fmt.Fprintf(c.rl.Stdout(), "  Serial: %s\n", d.Device)
		if d.Product != "" {
			fmt.Fprintf(c.rl.Stdout(), "      Product: %s\n", d.Product)
		}
		if d.Kind != "" {
			fmt.Fprintf(c.rl.Stdout(), "      Kind: %s\n", d.Kind)
		}
		fmt.Fprintf(c.rl.Stdout(), "      Status: %s\n", status)
		fmt.Fprintf(c.rl.Stdout(), "      Version: %d\n", d.Version)
		fmt.Fprintln(c.rl.Stdout())
	}
}

// cmdSnapshot handles the snapshot command.
func (c *Console) cmdSnapshot(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: snapshot <device>")
		return
	}

	device := c.resolveDevice(ctx, args[0])
	snap, err := c.client.GetSnapshot(ctx, device)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Snapshot failed: %v\n", err)
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "\n%s (%s) version %d:\n", snap.Device, snap.Kind, snap.Version)
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	for _, p := range sortedPaths(snap.Fields) {
		fmt.Fprintf(c.rl.Stdout(), "  %s = %v\n", p, snap.Fields[p])
	}
	fmt.Fprintln(c.rl.Stdout())
}

// cmdGet handles the get command.
func (c *Console) cmdGet(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: get <device> <path>")
		fmt.Fprintln(c.rl.Stdout(), "  Example: get SIM001 channel.game.volume")
		return
	}

	device := c.resolveDevice(ctx, args[0])
	snap, err := c.client.GetSnapshot(ctx, device)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Read failed: %v\n", err)
		return
	}

	value, ok := snap.Fields[args[1]]
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "Unknown field: %s\n", args[1])
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "%s = %v\n", args[1], value)
}

// cmdSet handles the set command.
func (c *Console) cmdSet(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: set <device> <path> <value>")
		fmt.Fprintln(c.rl.Stdout(), "  Example: set SIM001 channel.game.volume 180")
		return
	}

	device := c.resolveDevice(ctx, args[0])

	// Parse the value (try int, then float, then bool, then string).
	valueStr := strings.Join(args[2:], " ")
	var value any
	if v, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		value = v
	} else if v, err := strconv.ParseFloat(valueStr, 64); err == nil {
		value = v
	} else if v, err := strconv.ParseBool(valueStr); err == nil {
		value = v
	} else {
		value = strings.Trim(valueStr, "\"'")
	}

	if err := c.client.SetField(ctx, device, args[1], value); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Write failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "OK")
}

// cmdWatch handles the watch command.
func (c *Console) cmdWatch(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: watch <device>")
		return
	}

	c.reapWatch()
	if c.watchCancel != nil {
		fmt.Fprintf(c.rl.Stdout(), "Already watching %s (use 'unwatch' first)\n", c.watchDevice)
		return
	}

	device := c.resolveDevice(ctx, args[0])
	sub, err := c.client.Subscribe(ctx, device)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Subscribe failed: %v\n", err)
		return
	}

	watchCtx, watchCancel := context.WithCancel(ctx)
	c.watchDevice = device
	c.watchCancel = watchCancel
	c.watchDone = make(chan struct{})
	go c.runWatch(watchCtx, sub)

	if snap := sub.Snapshot(); snap != nil {
		fmt.Fprintf(c.rl.Stdout(), "Watching %s (version %d, %d fields)\n",
			snap.Device, snap.Version, len(snap.Fields))
	}
}

// cmdUnwatch handles the unwatch command.
func (c *Console) cmdUnwatch() {
	c.reapWatch()
	if c.watchCancel == nil {
		fmt.Fprintln(c.rl.Stdout(), "Not watching anything")
		return
	}

	c.watchCancel()
	<-c.watchDone
	c.watchCancel = nil
	c.watchDevice = ""
	fmt.Fprintln(c.rl.Stdout(), "Watch stopped")
}

// reapWatch clears a watch whose stream already ended on its own, for
// example because the device was unplugged.
func (c *Console) reapWatch() {
	if c.watchCancel == nil {
		return
	}
	select {
	case <-c.watchDone:
		c.watchCancel()
		c.watchCancel = nil
		c.watchDevice = ""
	default:
	}
}

// runWatch pumps one subscription onto the terminal. Updates print
// above the prompt the way the readline library expects.
func (c *Console) runWatch(ctx context.Context, sub *ipc.Subscription) {
	defer close(c.watchDone)

	for {
		u, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, ipc.ErrSubscriptionClosed) {
				fmt.Fprintf(c.rl.Stdout(), "\nWatch on %s ended: %s\n", sub.Device(), sub.Reason())
				c.rl.Refresh()
				return
			}
			// Cancelled by unwatch or quit; release the daemon side.
			unsubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = c.client.Unsubscribe(unsubCtx, sub)
			cancel()
			return
		}

		for _, p := range sortedPaths(u.Fields) {
			fmt.Fprintf(c.rl.Stdout(), "\n[%s] %s: %s = %v",
				time.Now().Format("15:04:05"), u.Device, p, u.Fields[p])
		}
		fmt.Fprintln(c.rl.Stdout())
		c.rl.Refresh()
	}
}

// cmdStatus handles the status command.
func (c *Console) cmdStatus(ctx context.Context) {
	info, err := c.client.DaemonInfo(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Status failed: %v\n", err)
		return
	}
	devices, err := c.client.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Status failed: %v\n", err)
		return
	}

	ready := 0
	for _, d := range devices {
		if !d.Retained {
			ready++
		}
	}

	fmt.Fprintln(c.rl.Stdout(), "\nDaemon Status")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	fmt.Fprintf(c.rl.Stdout(), "  Daemon:    %s %s\n", info.Name, info.Version)
	fmt.Fprintf(c.rl.Stdout(), "  Protocol:  %s (this build: %s)\n", info.Protocol, version.Protocol)
	fmt.Fprintf(c.rl.Stdout(), "  Devices:   %d (%d attached)\n", len(devices), ready)
	if c.watchCancel != nil {
		fmt.Fprintf(c.rl.Stdout(), "  Watching:  %s\n", c.watchDevice)
	}
	fmt.Fprintln(c.rl.Stdout())
}

// cmdPing handles the ping command.
func (c *Console) cmdPing(ctx context.Context) {
	start := time.Now()
	if err := c.client.Ping(ctx); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Ping failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "pong (%s)\n", time.Since(start).Round(time.Microsecond))
}

// resolveDevice resolves a partial serial to a full device serial. An
// unknown input passes through unchanged; the daemon reports not-found
// with the name the user gave.
func (c *Console) resolveDevice(ctx context.Context, partial string) string {
	devices, err := c.client.ListDevices(ctx)
	if err != nil {
		return partial
	}
	for _, d := range devices {
		if d.Device == partial {
			return partial
		}
	}
	for _, d := range devices {
		if strings.Contains(d.Device, partial) {
			return d.Device
		}
	}
	return partial
}

func sortedPaths(fields map[string]any) []string {
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
