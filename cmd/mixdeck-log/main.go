// Command mixdeck-log is a tool for viewing and analyzing MixDeck
// protocol capture files.
//
// Capture files are created by running mixdeck-daemon with the
// -event-log flag or the event_log.path config key.
//
// Usage:
//
//	mixdeck-log <command> [flags] <file.events>
//
// Commands:
//
//	view     Print a capture in human-readable form
//	export   Convert a capture to JSONL or CSV
//	filter   Write a narrowed copy of a capture
//	stats    Summarize a capture
//
// Examples:
//
//	# Print everything
//	mixdeck-log view daemon.events
//
//	# View only protocol-layer traffic for one console
//	mixdeck-log view -layer protocol -serial S201D7HX daemon.events
//
//	# Export to JSONL for jq
//	mixdeck-log export -format jsonl daemon.events
//
//	# Keep only one console's traffic
//	mixdeck-log filter -serial S201D7HX -o console.events daemon.events
//
//	# Summarize a capture
//	mixdeck-log stats daemon.events
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mixdeck-audio/mixdeck-go/cmd/mixdeck-log/commands"
)

const usage = `mixdeck-log - MixDeck Protocol Capture Analyzer

Usage:
  mixdeck-log <command> [flags] <file.events>

Commands:
  view     Print a capture in human-readable form
  export   Convert a capture to JSONL or CSV
  filter   Write a narrowed copy of a capture
  stats    Summarize a capture

Use "mixdeck-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "view":
		cmdView(args)
	case "export":
		cmdExport(args)
	case "filter":
		cmdFilter(args)
	case "stats":
		cmdStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet builds a flag set whose -help output leads with the
// command synopsis.
func newFlagSet(name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mixdeck-log %s - %s\n\nUsage:\n  mixdeck-log %s [flags] <file.events>\n\nFlags:\n", name, synopsis, name)
		fs.PrintDefaults()
	}
	return fs
}

// captureArg returns the positional capture path, exiting with usage
// help when it is missing.
func captureArg(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func cmdView(args []string) {
	fs := newFlagSet("view", "Print a capture in human-readable form")
	serial := fs.String("serial", "", "Keep only this device serial")
	layer := fs.String("layer", "", "Keep only this layer (transport, protocol, session, ipc)")
	direction := fs.String("direction", "", "Keep only this direction (in, out)")
	category := fs.String("category", "", "Keep only this category (command, ack, telemetry, state, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := captureArg(fs)

	filter := commands.ViewFilter{Serial: *serial}
	if *layer != "" {
		parsed, err := commands.ParseLayer(*layer)
		if err != nil {
			fatal(err)
		}
		filter.Layer = &parsed
	}
	if *direction != "" {
		parsed, err := commands.ParseDirection(*direction)
		if err != nil {
			fatal(err)
		}
		filter.Direction = &parsed
	}
	if *category != "" {
		parsed, err := commands.ParseCategory(*category)
		if err != nil {
			fatal(err)
		}
		filter.Category = &parsed
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fatal(err)
	}
}

func cmdExport(args []string) {
	fs := newFlagSet("export", "Convert a capture to JSONL or CSV")
	format := fs.String("format", "jsonl", "Export format, jsonl or csv")
	output := fs.String("o", "", "Write to this file instead of stdout")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := captureArg(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fatal(err)
	}
}

func cmdFilter(args []string) {
	fs := newFlagSet("filter", "Write a narrowed copy of a capture")
	output := fs.String("o", "", "Destination capture file (required)")
	serial := fs.String("serial", "", "Keep only this device serial")
	timeStart := fs.String("time-start", "", "Drop events before this time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Drop events after this time (RFC3339)")
	layer := fs.String("layer", "", "Keep only this layer (transport, protocol, session, ipc)")
	direction := fs.String("direction", "", "Keep only this direction (in, out)")
	category := fs.String("category", "", "Keep only this category (command, ack, telemetry, state, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := captureArg(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: destination file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	opts := commands.FilterOptions{
		Output:    *output,
		Serial:    *serial,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
	}
	if err := commands.RunFilter(path, opts); err != nil {
		fatal(err)
	}
}

func cmdStats(args []string) {
	fs := newFlagSet("stats", "Summarize a capture")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := captureArg(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fatal(err)
	}
}
