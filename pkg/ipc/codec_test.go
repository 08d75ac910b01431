package ipc

import (
	"errors"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{
		ID:     7,
		Op:     OpSetField,
		Device: "MD-1234",
		Path:   "channel.music.volume",
		Value:  int64(180),
	}

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	got, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if got.ID != req.ID || got.Op != req.Op || got.Device != req.Device || got.Path != req.Path {
		t.Errorf("envelope mismatch: got %+v", got)
	}
	if v, ok := got.Value.(int64); !ok || v != 180 {
		t.Errorf("value = %v (%T), want int64 180", got.Value, got.Value)
	}
}

// Integer values must come back as int64 regardless of how the client
// encoded them, so they compare equal against model snapshots.
func TestDecodeNormalizesIntegers(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int64
	}{
		{name: "int", value: int(42), want: 42},
		{name: "uint8", value: uint8(200), want: 200},
		{name: "int64", value: int64(-3), want: -3},
		{name: "uint64", value: uint64(255), want: 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeRequest(&Request{ID: 1, Op: OpSetField, Device: "d", Path: "p", Value: tt.value})
			if err != nil {
				t.Fatalf("EncodeRequest failed: %v", err)
			}
			got, err := DecodeRequest(data)
			if err != nil {
				t.Fatalf("DecodeRequest failed: %v", err)
			}
			if v, ok := got.Value.(int64); !ok || v != tt.want {
				t.Errorf("value = %v (%T), want int64 %d", got.Value, got.Value, tt.want)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	if _, err := EncodeRequest(&Request{ID: 0, Op: OpPing}); err == nil {
		t.Error("expected error for reserved id 0")
	}
	if _, err := EncodeRequest(&Request{ID: 1, Op: Op(99)}); err == nil {
		t.Error("expected error for invalid op")
	}

	data, err := Marshal(&Request{ID: 1, Op: Op(99)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := DecodeRequest(data); err == nil {
		t.Error("expected decode error for invalid op")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{
		ID:     3,
		Status: StatusNotFound,
		Error:  "no device MD-9",
	}

	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	got, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}

	if got.ID != 3 || got.Status != StatusNotFound {
		t.Errorf("envelope mismatch: got %+v", got)
	}
	if err := got.Err(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Err() = %v, want ErrNotFound", err)
	}
}

func TestResponseRejectsReservedID(t *testing.T) {
	if _, err := EncodeResponse(&Response{ID: 0, Status: StatusOK}); err == nil {
		t.Error("expected error for reserved id 0")
	}
}

func TestResponseErr(t *testing.T) {
	tests := []struct {
		status Status
		want   error
	}{
		{StatusOK, nil},
		{StatusNotFound, ErrNotFound},
		{StatusRejected, ErrRejected},
		{StatusBusy, ErrBusy},
		{StatusUnavailable, ErrUnavailable},
		{StatusBadRequest, ErrBadRequest},
		{StatusInternal, ErrInternal},
	}

	for _, tt := range tests {
		resp := &Response{ID: 1, Status: tt.status}
		err := resp.Err()
		if tt.want == nil {
			if err != nil {
				t.Errorf("%v: Err() = %v, want nil", tt.status, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("%v: Err() = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestNotificationRoundTrip(t *testing.T) {
	n := &Notification{
		Sub:     2,
		Device:  "MD-1234",
		Version: 41,
		Fields: map[string]any{
			"channel.mic.volume": int64(128),
			"channel.mic.mute":   true,
		},
	}

	data, err := EncodeNotification(n)
	if err != nil {
		t.Fatalf("EncodeNotification failed: %v", err)
	}

	if !IsNotification(data) {
		t.Error("IsNotification = false for a notification frame")
	}

	got, err := DecodeNotification(data)
	if err != nil {
		t.Fatalf("DecodeNotification failed: %v", err)
	}
	if got.Sub != 2 || got.Device != "MD-1234" || got.Version != 41 || got.Done != ReasonNone {
		t.Errorf("envelope mismatch: got %+v", got)
	}
	if v, ok := got.Fields["channel.mic.volume"].(int64); !ok || v != 128 {
		t.Errorf("volume = %v (%T), want int64 128", got.Fields["channel.mic.volume"], got.Fields["channel.mic.volume"])
	}
	if v, ok := got.Fields["channel.mic.mute"].(bool); !ok || !v {
		t.Errorf("mute = %v, want true", got.Fields["channel.mic.mute"])
	}
}

func TestNotificationTerminal(t *testing.T) {
	data, err := EncodeNotification(&Notification{Sub: 5, Device: "MD-1", Done: ReasonDeviceRemoved})
	if err != nil {
		t.Fatalf("EncodeNotification failed: %v", err)
	}
	got, err := DecodeNotification(data)
	if err != nil {
		t.Fatalf("DecodeNotification failed: %v", err)
	}
	if got.Done != ReasonDeviceRemoved {
		t.Errorf("Done = %v, want ReasonDeviceRemoved", got.Done)
	}
	if len(got.Fields) != 0 {
		t.Errorf("terminal notification carries fields: %v", got.Fields)
	}
}

// Requests and responses carry nonzero message IDs, so the zero-ID
// peek cleanly separates notifications from everything else.
func TestIsNotificationDiscriminates(t *testing.T) {
	reqData, err := EncodeRequest(&Request{ID: 1, Op: OpPing})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if IsNotification(reqData) {
		t.Error("IsNotification = true for a request frame")
	}

	respData, err := EncodeResponse(&Response{ID: 1, Status: StatusOK})
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	if IsNotification(respData) {
		t.Error("IsNotification = true for a response frame")
	}

	if _, err := DecodeNotification(respData); err == nil {
		t.Error("expected DecodeNotification to reject a nonzero message id")
	}
}

func TestOpStrings(t *testing.T) {
	ops := map[Op]string{
		OpListDevices: "list-devices",
		OpGetSnapshot: "get-snapshot",
		OpSetField:    "set-field",
		OpSubscribe:   "subscribe",
		OpUnsubscribe: "unsubscribe",
		OpPing:        "ping",
		OpDaemonInfo:  "daemon-info",
	}
	for op, want := range ops {
		if got := op.String(); got != want {
			t.Errorf("Op(%d).String() = %q, want %q", op, got, want)
		}
		if !op.IsValid() {
			t.Errorf("Op(%d).IsValid() = false", op)
		}
	}
	if Op(0).IsValid() || Op(8).IsValid() {
		t.Error("out-of-range op reported valid")
	}
}
