package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors capture events into an application log at debug
// level. Wired in during development, it shows device traffic in the
// console without opening a capture file.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter that writes to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log emits the event as a debug record named "device".
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("serial", event.Serial),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Product != "" {
		attrs = append(attrs, slog.String("product", event.Product))
	}
	if event.Client != "" {
		attrs = append(attrs, slog.String("client", event.Client))
	}
	attrs = append(attrs, payloadAttrs(event)...)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "device", attrs...)
}

// payloadAttrs flattens whichever payload is set into log attributes.
func payloadAttrs(event Event) []slog.Attr {
	switch {
	case event.Report != nil:
		rep := event.Report
		return []slog.Attr{
			slog.Int("report_size", rep.Size),
			slog.Bool("truncated", rep.Truncated),
		}
	case event.Command != nil:
		cmd := event.Command
		attrs := []slog.Attr{
			slog.Uint64("seq", uint64(cmd.Seq)),
			slog.String("opcode", cmd.Opcode.String()),
		}
		if cmd.Field != "" {
			attrs = append(attrs, slog.String("field", cmd.Field))
		}
		if cmd.Value != nil {
			attrs = append(attrs, slog.Any("value", cmd.Value))
		}
		if cmd.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", cmd.Attempt))
		}
		return attrs
	case event.Ack != nil:
		ack := event.Ack
		attrs := []slog.Attr{
			slog.Uint64("seq", uint64(ack.Seq)),
			slog.String("opcode", ack.Opcode.String()),
			slog.String("status", ack.Status.String()),
		}
		if ack.RoundTrip != nil {
			attrs = append(attrs, slog.Duration("round_trip", *ack.RoundTrip))
		}
		return attrs
	case event.Telemetry != nil:
		tel := event.Telemetry
		return []slog.Attr{
			slog.Bool("full", tel.Full),
			slog.Int("fields", tel.Fields),
		}
	case event.StateChange != nil:
		sc := event.StateChange
		attrs := []slog.Attr{
			slog.String("entity", sc.Entity.String()),
			slog.String("old_state", sc.OldState),
			slog.String("new_state", sc.NewState),
		}
		if sc.Reason != "" {
			attrs = append(attrs, slog.String("reason", sc.Reason))
		}
		return attrs
	case event.Error != nil:
		e := event.Error
		attrs := []slog.Attr{
			slog.String("error_layer", e.Layer.String()),
			slog.String("error_msg", e.Message),
		}
		if e.Context != "" {
			attrs = append(attrs, slog.String("error_context", e.Context))
		}
		return attrs
	}
	return nil
}

var _ Logger = (*SlogAdapter)(nil)
