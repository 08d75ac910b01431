package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
)

// RunExport renders the capture in a machine-readable format, JSON
// lines or CSV, to stdout or to the output path.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	out := io.Writer(os.Stdout)
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", output, err)
		}
		defer f.Close()
		out = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, out)
	case "csv":
		return exportCSV(reader, out)
	default:
		return fmt.Errorf("unknown format %q (want jsonl or csv)", format)
	}
}

// eachEvent feeds every remaining event to fn, stopping at end of file
// or on the first error.
func eachEvent(reader *log.Reader, fn func(log.Event) error) error {
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

func exportJSONL(reader *log.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	return eachEvent(reader, func(event log.Event) error {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		return nil
	})
}

var csvHeader = []string{
	"timestamp", "serial", "direction", "layer", "category",
	"type", "seq", "opcode", "field", "status",
}

func exportCSV(reader *log.Reader, out io.Writer) error {
	cw := csv.NewWriter(out)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	return eachEvent(reader, func(event log.Event) error {
		if err := cw.Write(csvRow(event)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
		return nil
	})
}

// csvRow flattens one event into the fixed column set. Payload columns
// stay empty for event kinds that do not carry them.
func csvRow(event log.Event) []string {
	kind := "unknown"
	var seq, opcode, field, status string
	switch {
	case event.Report != nil:
		kind = "report"
	case event.Command != nil:
		kind = "command"
		seq = strconv.Itoa(int(event.Command.Seq))
		opcode = event.Command.Opcode.String()
		field = event.Command.Field
	case event.Ack != nil:
		kind = "ack"
		seq = strconv.Itoa(int(event.Ack.Seq))
		opcode = event.Ack.Opcode.String()
		status = event.Ack.Status.String()
	case event.Telemetry != nil:
		kind = "telemetry"
	case event.StateChange != nil:
		kind = "state"
	case event.Error != nil:
		kind = "error"
	}

	return []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.Serial,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		kind,
		seq,
		opcode,
		field,
		status,
	}
}
