package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/shadowsculpt/backend/internal/service/session"
	"github.com/shadowsculpt/backend/internal/service/storage"
)

// ErrInvalidFrame is returned when an inbound frame payload is not decodable
// image data. Nothing is persisted or broadcast for an invalid frame.
var ErrInvalidFrame = errors.New("frame payload is not a decodable image")

// Broadcaster delivers a room-scoped event to every member except the sender.
// Satisfied by the websocket hub.
type Broadcaster interface {
	BroadcastExcept(roomID, senderID, event string, payload any)
}

// Ingestor 接收传感器上传的帧：校验、落盘、计数、广播。
type Ingestor struct {
	layout   *storage.Layout
	registry *session.Registry
	rooms    Broadcaster

	mu      sync.Mutex
	lastKey string
	seq     uint64
}

// NewIngestor wires the frame ingestion path.
func NewIngestor(layout *storage.Layout, registry *session.Registry, rooms Broadcaster) *Ingestor {
	return &Ingestor{layout: layout, registry: registry, rooms: rooms}
}

// Ingest validates and persists one frame for a session, then broadcasts
// frame_received with the updated count to every other room member. The
// sender is excluded: it already has local confirmation and must not
// re-render its own frame from the echo.
func (i *Ingestor) Ingest(sessionID, senderID, dataURI string) (int, error) {
	payload, err := DecodeDataURI(dataURI)
	if err != nil {
		return 0, err
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(payload)); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	key := i.nextKey()
	if err := i.layout.SaveFrame(sessionID, key, payload); err != nil {
		return 0, fmt.Errorf("persist frame: %w", err)
	}

	count, err := i.registry.RecordFrame(sessionID)
	if err != nil {
		// Session reclaimed between the write and the count: roll the file
		// back so count and artifacts never drift.
		if rmErr := i.layout.RemoveFrame(sessionID, key); rmErr != nil {
			log.Printf("[ingest] rollback of frame %s/%s failed: %v", sessionID, key, rmErr)
		}
		return 0, err
	}

	i.rooms.BroadcastExcept(sessionID, senderID, "frame_received", map[string]any{
		"image": dataURI,
		"count": count,
	})
	return count, nil
}

// nextKey returns a strictly increasing ingestion key: unix milliseconds plus
// a process-local monotonic counter to break ties within one millisecond.
func (i *Ingestor) nextKey() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seq++
	key := fmt.Sprintf("%013d-%06d", time.Now().UnixMilli(), i.seq)
	if key <= i.lastKey {
		// Clock went backwards; the counter alone still keeps keys ordered.
		key = fmt.Sprintf("%s-%06d", strings.SplitN(i.lastKey, "-", 2)[0], i.seq)
	}
	i.lastKey = key
	return key
}

// DecodeDataURI extracts the raw bytes from a base64 data-URI string as sent
// by the capture client. Plain base64 without a header is accepted too.
func DecodeDataURI(uri string) ([]byte, error) {
	encoded := uri
	if idx := strings.Index(uri, ","); idx >= 0 && strings.HasPrefix(uri, "data:") {
		encoded = uri[idx+1:]
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 payload", ErrInvalidFrame)
	}
	if len(payload) == 0 {
		return nil, ErrInvalidFrame
	}
	return payload, nil
}
