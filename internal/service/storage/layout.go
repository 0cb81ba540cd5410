package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	frameExt     = ".jpg"
	artifactName = "model.glb"
)

var (
	ErrInvalidName    = errors.New("invalid session or file name")
	ErrArtifactAbsent = errors.New("artifact not found")
)

// Layout 管理每个会话在磁盘上的目录结构。
// 每个会话一个目录，帧文件按摄取顺序键命名，重建产物使用固定文件名。
type Layout struct {
	root string
}

// NewLayout creates the root storage directory if needed.
func NewLayout(root string) (*Layout, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Layout{root: root}, nil
}

// Root returns the storage root path.
func (l *Layout) Root() string { return l.root }

// ArtifactName returns the fixed filename for the reconstruction artifact.
func ArtifactName() string { return artifactName }

// sessionDir resolves the directory for a session, rejecting ids that could
// escape the storage root.
func (l *Layout) sessionDir(sessionID string) (string, error) {
	if !safeName(sessionID) {
		return "", ErrInvalidName
	}
	return filepath.Join(l.root, sessionID), nil
}

// EnsureSession creates the session directory if it does not exist yet.
func (l *Layout) EnsureSession(sessionID string) (string, error) {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// SaveFrame persists one frame under the session directory. The key is the
// ingestion order key without extension.
func (l *Layout) SaveFrame(sessionID, key string, data []byte) error {
	dir, err := l.EnsureSession(sessionID)
	if err != nil {
		return err
	}
	if !safeName(key) {
		return ErrInvalidName
	}
	path := filepath.Join(dir, key+frameExt)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// RemoveFrame deletes a single frame file. Used to roll back an ingest whose
// session was reclaimed concurrently.
func (l *Layout) RemoveFrame(sessionID, key string) error {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(dir, key+frameExt))
}

// ListFrames returns the frame filenames for a session sorted by ingestion
// key ascending. The artifact file is excluded. A missing directory yields an
// empty list, not an error.
func (l *Layout) ListFrames(sessionID string) ([]string, error) {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list session dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), frameExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// FrameCount returns the number of persisted frames for a session.
func (l *Layout) FrameCount(sessionID string) (int, error) {
	names, err := l.ListFrames(sessionID)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// WriteArtifact streams the reconstruction result into the session directory
// under the fixed artifact name. Written via a temp file and rename so a
// half-downloaded artifact is never served.
func (l *Layout) WriteArtifact(sessionID string, r io.Reader) (string, error) {
	dir, err := l.EnsureSession(sessionID)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, artifactName+".partial-*")
	if err != nil {
		return "", fmt.Errorf("create artifact temp: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact temp: %w", err)
	}

	final := filepath.Join(dir, artifactName)
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize artifact: %w", err)
	}
	return artifactName, nil
}

// Resolve maps a session id and filename to an on-disk path for the file
// endpoint. Returns os.ErrNotExist when the file is absent.
func (l *Layout) Resolve(sessionID, filename string) (string, error) {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return "", err
	}
	if !safeName(filename) {
		return "", ErrInvalidName
	}
	path := filepath.Join(dir, filename)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", os.ErrNotExist
	}
	return path, nil
}

// Remove deletes a session directory recursively.
func (l *Layout) Remove(sessionID string) error {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// DirInfo describes one session directory on disk.
type DirInfo struct {
	SessionID string
	ModTime   time.Time
}

// Sessions lists the session directories currently on disk with their
// modification times. Input for the janitor sweep.
func (l *Layout) Sessions() ([]DirInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("list storage root: %w", err)
	}

	var dirs []DirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, DirInfo{SessionID: e.Name(), ModTime: info.ModTime()})
	}
	return dirs, nil
}

// safeName rejects names that contain path separators or traversal segments.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}
