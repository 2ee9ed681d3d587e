// Package state holds the client-side mirrors of camera service domain
// state. Each container consumes one notification category through the
// router and answers reads from local memory, so the UI layer never blocks
// on the network.
package state

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/camlink/protocol"
	"github.com/c360/camlink/router"
)

// Camera is one camera known to the service.
type Camera struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Online    bool      `json:"online"`
	Recording bool      `json:"recording"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CameraList mirrors the camera.status category. Updates arrive as partial
// per-camera patches; a camera absent from local state is inserted.
type CameraList struct {
	logger *slog.Logger

	mu      sync.RWMutex
	cameras map[string]Camera
	seq     uint64
}

// NewCameraList creates an empty camera list.
func NewCameraList(logger *slog.Logger) *CameraList {
	if logger == nil {
		logger = slog.Default()
	}
	return &CameraList{logger: logger, cameras: make(map[string]Camera)}
}

type cameraStatusEvent struct {
	Cameras []Camera `json:"cameras"`
	Removed []string `json:"removed,omitempty"`
}

// Handler returns the router sink for camera.status notifications.
func (l *CameraList) Handler() router.Handler {
	return func(n *protocol.Notification) {
		var ev cameraStatusEvent
		if err := json.Unmarshal(n.Payload, &ev); err != nil {
			l.logger.Warn("malformed camera status payload", "seq", n.Seq, "error", err)
			return
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		l.seq = n.Seq
		for _, cam := range ev.Cameras {
			l.cameras[cam.ID] = cam
		}
		for _, id := range ev.Removed {
			delete(l.cameras, id)
		}
	}
}

// Get returns one camera by id.
func (l *CameraList) Get(id string) (Camera, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cam, ok := l.cameras[id]
	return cam, ok
}

// All returns every known camera sorted by id.
func (l *CameraList) All() []Camera {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Camera, 0, len(l.cameras))
	for _, cam := range l.cameras {
		out = append(out, cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Seq returns the sequence of the last applied update.
func (l *CameraList) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Recording describes the recorder state of one camera.
type Recording struct {
	CameraID  string    `json:"camera_id"`
	Active    bool      `json:"active"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
}

// RecordingStatus mirrors the recording.status category.
type RecordingStatus struct {
	logger *slog.Logger

	mu         sync.RWMutex
	recordings map[string]Recording
}

// NewRecordingStatus creates an empty recording mirror.
func NewRecordingStatus(logger *slog.Logger) *RecordingStatus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingStatus{logger: logger, recordings: make(map[string]Recording)}
}

// Handler returns the router sink for recording.status notifications.
func (r *RecordingStatus) Handler() router.Handler {
	return func(n *protocol.Notification) {
		var rec Recording
		if err := json.Unmarshal(n.Payload, &rec); err != nil {
			r.logger.Warn("malformed recording status payload", "seq", n.Seq, "error", err)
			return
		}
		if rec.CameraID == "" {
			return
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if rec.Active {
			r.recordings[rec.CameraID] = rec
		} else {
			delete(r.recordings, rec.CameraID)
		}
	}
}

// Active returns the recordings currently in progress, sorted by camera id.
func (r *RecordingStatus) Active() []Recording {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Recording, 0, len(r.recordings))
	for _, rec := range r.recordings {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// IsRecording reports whether the camera has an active recording.
func (r *RecordingStatus) IsRecording(cameraID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.recordings[cameraID]
	return ok
}

// File is one recorded clip indexed by the service.
type File struct {
	Path      string    `json:"path"`
	CameraID  string    `json:"camera_id"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// FileIndex mirrors the file.index category: an append-mostly catalog of
// recorded clips with occasional deletions.
type FileIndex struct {
	logger *slog.Logger

	mu    sync.RWMutex
	files map[string]File
}

// NewFileIndex creates an empty file index.
func NewFileIndex(logger *slog.Logger) *FileIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileIndex{logger: logger, files: make(map[string]File)}
}

type fileIndexEvent struct {
	Files []File `json:"files"`
}

// Handler returns the router sink for file.index notifications.
func (f *FileIndex) Handler() router.Handler {
	return func(n *protocol.Notification) {
		var ev fileIndexEvent
		if err := json.Unmarshal(n.Payload, &ev); err != nil {
			f.logger.Warn("malformed file index payload", "seq", n.Seq, "error", err)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		for _, file := range ev.Files {
			if file.Deleted {
				delete(f.files, file.Path)
				continue
			}
			f.files[file.Path] = file
		}
	}
}

// Len returns the number of indexed files.
func (f *FileIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.files)
}

// ByCamera returns the files recorded by one camera, newest first.
func (f *FileIndex) ByCamera(cameraID string) []File {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []File
	for _, file := range f.files {
		if file.CameraID == cameraID {
			out = append(out, file)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// TotalBytes returns the summed size of every indexed file.
func (f *FileIndex) TotalBytes() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var total int64
	for _, file := range f.files {
		total += file.Size
	}
	return total
}

// SystemInfo is the service-side health report pushed on system.health.
type SystemInfo struct {
	CPUPercent  float64   `json:"cpu_percent"`
	DiskFree    int64     `json:"disk_free"`
	DiskTotal   int64     `json:"disk_total"`
	Temperature float64   `json:"temperature,omitempty"`
	Uptime      int64     `json:"uptime"`
	ReportedAt  time.Time `json:"reported_at"`
}

// SystemHealth mirrors the system.health category, keeping only the latest
// report.
type SystemHealth struct {
	logger *slog.Logger

	mu     sync.RWMutex
	latest SystemInfo
	seen   bool
}

// NewSystemHealth creates an empty system health mirror.
func NewSystemHealth(logger *slog.Logger) *SystemHealth {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHealth{logger: logger}
}

// Handler returns the router sink for system.health notifications.
func (s *SystemHealth) Handler() router.Handler {
	return func(n *protocol.Notification) {
		var info SystemInfo
		if err := json.Unmarshal(n.Payload, &info); err != nil {
			s.logger.Warn("malformed system health payload", "seq", n.Seq, "error", err)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.latest = info
		s.seen = true
	}
}

// Latest returns the most recent report. The second return is false until
// the first report arrives.
func (s *SystemHealth) Latest() (SystemInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.seen
}
