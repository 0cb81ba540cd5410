package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	model "github.com/shadowsculpt/backend/internal/model/session"
	"github.com/shadowsculpt/backend/internal/service/session"
	"github.com/shadowsculpt/backend/internal/service/storage"
)

type roomEvent struct {
	RoomID   string
	SenderID string
	Event    string
	Payload  any
}

type recordingRooms struct {
	mu     sync.Mutex
	events []roomEvent
}

func (r *recordingRooms) BroadcastExcept(roomID, senderID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, roomEvent{RoomID: roomID, SenderID: senderID, Event: event, Payload: payload})
}

func (r *recordingRooms) all() []roomEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]roomEvent, len(r.events))
	copy(out, r.events)
	return out
}

func pngDataURI(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestIngestor(t *testing.T) (*Ingestor, *storage.Layout, *session.Registry, *recordingRooms) {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("create layout: %v", err)
	}
	registry := session.NewRegistry()
	rooms := &recordingRooms{}
	return NewIngestor(layout, registry, rooms), layout, registry, rooms
}

func TestIngestPersistsCountsAndBroadcasts(t *testing.T) {
	ing, layout, registry, rooms := newTestIngestor(t)
	registry.Join("abc", model.RoleSensor, "sensor-1")
	uri := pngDataURI(t)

	const n = 5
	for i := 1; i <= n; i++ {
		count, err := ing.Ingest("abc", "sensor-1", uri)
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}

	// Count and persisted artifacts must agree.
	names, err := layout.ListFrames("abc")
	if err != nil {
		t.Fatalf("list frames: %v", err)
	}
	if len(names) != n {
		t.Fatalf("expected %d persisted frames, got %d", n, len(names))
	}

	events := rooms.all()
	if len(events) != n {
		t.Fatalf("expected %d broadcasts, got %d", n, len(events))
	}
	for i, ev := range events {
		if ev.Event != "frame_received" {
			t.Fatalf("event %d: expected frame_received, got %s", i, ev.Event)
		}
		if ev.SenderID != "sensor-1" {
			t.Fatalf("event %d: sender must be excluded from the broadcast", i)
		}
	}
}

func TestIngestKeysStrictlyIncreasing(t *testing.T) {
	ing, layout, registry, _ := newTestIngestor(t)
	registry.Join("abc", model.RoleSensor, "sensor-1")
	uri := pngDataURI(t)

	for i := 0; i < 20; i++ {
		if _, err := ing.Ingest("abc", "sensor-1", uri); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	names, err := layout.ListFrames("abc")
	if err != nil {
		t.Fatalf("list frames: %v", err)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("keys must be strictly increasing: %s >= %s", names[i-1], names[i])
		}
	}
}

func TestIngestRejectsUndecodablePayload(t *testing.T) {
	ing, layout, registry, rooms := newTestIngestor(t)
	registry.Join("abc", model.RoleSensor, "sensor-1")

	junk := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not an image"))
	if _, err := ing.Ingest("abc", "sensor-1", junk); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}

	// Nothing persisted, nothing broadcast.
	names, err := layout.ListFrames("abc")
	if err != nil {
		t.Fatalf("list frames: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("invalid frame must not be persisted, got %v", names)
	}
	if len(rooms.all()) != 0 {
		t.Fatalf("invalid frame must not be broadcast")
	}
}

func TestIngestRejectsBadBase64(t *testing.T) {
	ing, _, registry, _ := newTestIngestor(t)
	registry.Join("abc", model.RoleSensor, "sensor-1")

	if _, err := ing.Ingest("abc", "sensor-1", "data:image/png;base64,@@not-base64@@"); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestIngestRollsBackWhenSessionUnknown(t *testing.T) {
	ing, layout, _, rooms := newTestIngestor(t)
	// No join: the registry has never seen this session.
	uri := pngDataURI(t)

	if _, err := ing.Ingest("ghost", "sensor-1", uri); !errors.Is(err, session.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}

	names, err := layout.ListFrames("ghost")
	if err != nil {
		t.Fatalf("list frames: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("frame write must be rolled back, got %v", names)
	}
	if len(rooms.all()) != 0 {
		t.Fatalf("no broadcast expected for a failed ingest")
	}
}

func TestDecodeDataURIPlainBase64(t *testing.T) {
	payload, err := DecodeDataURI(base64.StdEncoding.EncodeToString([]byte("hello")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("expected hello, got %q", payload)
	}
}
