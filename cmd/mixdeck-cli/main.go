// Command mixdeck-cli talks to a running mixdeck-daemon over its local
// socket.
//
// With a command it performs one operation and exits, suitable for
// scripting. Without one it drops into an interactive console with
// line editing and live watch output.
//
// Usage:
//
//	mixdeck-cli [flags] [command [args]]
//
// Flags:
//
//	-socket string    daemon socket path
//	-timeout duration request timeout (default 10s)
//	-version          print version and exit
//
// Commands:
//
//	devices                     List tracked devices
//	snapshot <device>           Print a device's full state
//	get <device> <path>         Print one field value
//	set <device> <path> <value> Write one field
//	watch <device>              Stream field changes until interrupted
//	ping                        Check the daemon is answering
//	info                        Print daemon name, version, and protocol
//	template [name]             Print a starter profile (default, streaming)
//
// Examples:
//
//	# Set the game channel volume on the only attached console
//	mixdeck-cli set SIM001 channel.game.volume 180
//
//	# Follow every change a console applies
//	mixdeck-cli watch SIM001
//
//	# Scripting: read a single value
//	vol=$(mixdeck-cli get SIM001 channel.game.volume)
//
//	# Bootstrap an editable profile for a console
//	mixdeck-cli template streaming > SIM001.yaml
//
// Interactive Commands:
//
//	devices     - List tracked devices
//	snapshot    - Show a device's full state
//	get / set   - Read or write one field
//	watch       - Stream changes behind the prompt
//	status      - Show daemon status
//	quit        - Exit the console
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/mixdeck-audio/mixdeck-go/cmd/mixdeck-cli/interactive"
	"github.com/mixdeck-audio/mixdeck-go/pkg/ipc"
	"github.com/mixdeck-audio/mixdeck-go/pkg/profile"
	"github.com/mixdeck-audio/mixdeck-go/pkg/version"
)

func main() {
	fs := flag.NewFlagSet("mixdeck-cli", flag.ExitOnError)
	var (
		socketPath  = fs.String("socket", ipc.DefaultSocketPath, "daemon socket path")
		timeout     = fs.Duration("timeout", ipc.DefaultRequestTimeout, "request timeout")
		showVersion = fs.Bool("version", false, "print version and exit")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("MIXDECK")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Printf("%s (protocol %s)\n", version.UserAgent(), version.Protocol)
		return
	}

	// template renders built-in text and needs no daemon.
	if args := fs.Args(); len(args) > 0 && args[0] == "template" {
		if err := cmdTemplate(args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	client, err := ipc.DialConfig(ipc.ClientConfig{
		SocketPath: *socketPath,
		Timeout:    *timeout,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()
	checkProtocol(ctx, client)

	args := fs.Args()
	if len(args) == 0 {
		runInteractive(client)
		return
	}

	if err := runCommand(ctx, client, args[0], args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// checkProtocol warns when the daemon speaks a different protocol
// major than this build. Operations still go through; the daemon
// rejects what it cannot serve.
func checkProtocol(ctx context.Context, client *ipc.Client) {
	info, err := client.DaemonInfo(ctx)
	if err != nil {
		return
	}
	theirs, err := version.Parse(info.Protocol)
	if err != nil {
		return
	}
	ours, err := version.Parse(version.Protocol)
	if err != nil {
		return
	}
	if !ours.Compatible(theirs) {
		fmt.Fprintf(os.Stderr, "warning: daemon %s speaks protocol %s, this build speaks %s\n",
			info.Version, info.Protocol, version.Protocol)
	}
}

func runCommand(ctx context.Context, client *ipc.Client, cmd string, args []string) error {
	switch cmd {
	case "devices", "ls":
		return cmdDevices(ctx, client)

	case "snapshot", "snap":
		if len(args) < 1 {
			return errors.New("usage: mixdeck-cli snapshot <device>")
		}
		return cmdSnapshot(ctx, client, args[0])

	case "get":
		if len(args) < 2 {
			return errors.New("usage: mixdeck-cli get <device> <path>")
		}
		return cmdGet(ctx, client, args[0], args[1])

	case "set":
		if len(args) < 3 {
			return errors.New("usage: mixdeck-cli set <device> <path> <value>")
		}
		return cmdSet(ctx, client, args[0], args[1], strings.Join(args[2:], " "))

	case "watch":
		if len(args) < 1 {
			return errors.New("usage: mixdeck-cli watch <device>")
		}
		return cmdWatch(client, args[0])

	case "ping":
		return cmdPing(ctx, client)

	case "info":
		return cmdInfo(ctx, client)

	default:
		return fmt.Errorf("unknown command %q (run with no arguments for interactive mode)", cmd)
	}
}

func cmdDevices(ctx context.Context, client *ipc.Client) error {
	devices, err := client.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices")
		return nil
	}
	for _, d := range devices {
		status := d.Phase
		if d.Retained {
			status = "retained"
		}
		fmt.Printf("%-16s %-8s %-10s %s\n", d.Device, d.Kind, status, d.Product)
	}
	return nil
}

func cmdSnapshot(ctx context.Context, client *ipc.Client, device string) error {
	snap, err := client.GetSnapshot(ctx, device)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s) version %d\n", snap.Device, snap.Kind, snap.Version)
	for _, p := range sortedPaths(snap.Fields) {
		fmt.Printf("  %s = %v\n", p, snap.Fields[p])
	}
	return nil
}

func cmdGet(ctx context.Context, client *ipc.Client, device, path string) error {
	snap, err := client.GetSnapshot(ctx, device)
	if err != nil {
		return err
	}
	value, ok := snap.Fields[path]
	if !ok {
		return fmt.Errorf("unknown field %q", path)
	}
	fmt.Printf("%v\n", value)
	return nil
}

func cmdSet(ctx context.Context, client *ipc.Client, device, path, valueStr string) error {
	// Try int, then float, then bool, then string.
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

	if err := client.SetField(ctx, device, path, value); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

// cmdWatch streams changes until the stream ends or the user
// interrupts. Each batch prints one line per changed field.
func cmdWatch(client *ipc.Client, device string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sub, err := client.Subscribe(ctx, device)
	if err != nil {
		return err
	}
	if snap := sub.Snapshot(); snap != nil {
		fmt.Printf("watching %s (version %d, %d fields)\n", snap.Device, snap.Version, len(snap.Fields))
	}

	for {
		u, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ipc.ErrSubscriptionClosed) {
				fmt.Printf("stream ended: %s\n", sub.Reason())
				return nil
			}
			return err
		}
		for _, p := range sortedPaths(u.Fields) {
			fmt.Printf("[%s] v%d %s = %v\n", time.Now().Format("15:04:05"), u.Version, p, u.Fields[p])
		}
	}
}

func cmdPing(ctx context.Context, client *ipc.Client) error {
	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		return err
	}
	fmt.Printf("pong (%s)\n", time.Since(start).Round(time.Microsecond))
	return nil
}

func cmdInfo(ctx context.Context, client *ipc.Client) error {
	info, err := client.DaemonInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s (protocol %s)\n", info.Name, info.Version, info.Protocol)
	return nil
}

// cmdTemplate prints a built-in profile as YAML, a starting point for
// files under the daemon's profiles directory.
func cmdTemplate(args []string) error {
	name := "default"
	if len(args) > 0 {
		name = args[0]
	}

	var p *profile.Profile
	switch name {
	case "default":
		p = profile.Default()
	case "streaming":
		p = profile.Streaming()
	default:
		return fmt.Errorf("unknown template %q (have: default, streaming)", name)
	}

	data, err := p.Encode()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runInteractive(client *ipc.Client) {
	console, err := interactive.New(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "interactive mode: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	console.Run(ctx, cancel)
}

func sortedPaths(fields map[string]any) []string {
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
