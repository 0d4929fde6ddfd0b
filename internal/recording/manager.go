// Package recording drives room audio recording through the media server's
// egress API and uploads to S3-compatible storage.
package recording

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
)

const (
	ModeMP4 = "mp4"
	ModeHLS = "hls"

	timestampLayout = "20060102-150405"
)

// Egress is the subset of the LiveKit egress client used here.
type Egress interface {
	StartRoomCompositeEgress(ctx context.Context, req *livekit.RoomCompositeEgressRequest) (*livekit.EgressInfo, error)
	StopEgress(ctx context.Context, req *livekit.StopEgressRequest) (*livekit.EgressInfo, error)
}

type S3Config struct {
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

func (s S3Config) complete() bool {
	return s.Bucket != "" && s.AccessKey != "" && s.SecretKey != ""
}

type Config struct {
	Enabled bool
	UseHLS  bool

	// FilePath may contain {room_name} and {time}.
	FilePath string
	// BaseURL is the public prefix recordings are served from.
	BaseURL string

	SegmentDuration  uint32
	PlaylistName     string
	LivePlaylistName string

	S3 S3Config
}

func (c Config) withDefaults() Config {
	out := c
	if out.SegmentDuration == 0 {
		out.SegmentDuration = 2
	}
	if out.PlaylistName == "" {
		out.PlaylistName = "playlist.m3u8"
	}
	if out.LivePlaylistName == "" {
		out.LivePlaylistName = "live.m3u8"
	}
	if out.S3.Region == "" {
		out.S3.Region = "auto"
	}
	return out
}

func (c Config) mode() string {
	if c.UseHLS {
		return ModeHLS
	}
	return ModeMP4
}

// Metadata describes a started recording.
type Metadata struct {
	Provider     string `json:"provider"`
	EgressID     string `json:"egress_id"`
	Filepath     string `json:"filepath,omitempty"`
	Bucket       string `json:"bucket"`
	Endpoint     string `json:"endpoint,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
	Mode         string `json:"mode"`
	StartedAt    string `json:"started_at"`
}

// Manager records a single room. The timestamp used in file names is fixed at
// construction so the URL we report matches the object the egress writes.
type Manager struct {
	cfg    Config
	egress Egress
	room   string
	stamp  string
	log    *slog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	egressID string
	meta     *Metadata
}

func NewManager(cfg Config, egress Egress, roomName string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:    cfg.withDefaults(),
		egress: egress,
		room:   roomName,
		log:    log.With("room_name", roomName),
		clock:  time.Now,
	}
	m.stamp = m.clock().UTC().Format(timestampLayout)
	return m
}

// Filename is the object key for the recording with placeholders resolved.
func (m *Manager) Filename() string {
	pattern := m.cfg.FilePath
	if pattern == "" {
		return "livekit/" + m.room + "-" + m.stamp + ".mp4"
	}
	r := strings.NewReplacer("{room_name}", m.room, "{time}", m.stamp)
	return r.Replace(pattern)
}

func (m *Manager) s3Upload() *livekit.S3Upload {
	s := m.cfg.S3
	return &livekit.S3Upload{
		AccessKey:      s.AccessKey,
		Secret:         s.SecretKey,
		Region:         s.Region,
		Endpoint:       s.Endpoint,
		Bucket:         s.Bucket,
		ForcePathStyle: s.ForcePathStyle,
	}
}

func (m *Manager) request() *livekit.RoomCompositeEgressRequest {
	req := &livekit.RoomCompositeEgressRequest{
		RoomName:  m.room,
		AudioOnly: true,
	}
	if !m.cfg.UseHLS {
		req.FileOutputs = []*livekit.EncodedFileOutput{{
			FileType: livekit.EncodedFileType_MP4,
			Filepath: m.Filename(),
			Output:   &livekit.EncodedFileOutput_S3{S3: m.s3Upload()},
		}}
		return req
	}
	req.SegmentOutputs = []*livekit.SegmentedFileOutput{{
		FilenamePrefix:   m.hlsPrefix(),
		PlaylistName:     m.cfg.PlaylistName,
		LivePlaylistName: m.cfg.LivePlaylistName,
		SegmentDuration:  m.cfg.SegmentDuration,
		Output:           &livekit.SegmentedFileOutput_S3{S3: m.s3Upload()},
	}}
	return req
}

func (m *Manager) hlsPrefix() string {
	return strings.TrimSuffix(m.Filename(), ".mp4")
}

// Start begins recording. It returns nil when recording is disabled, storage
// is not configured, or the egress could not be started.
func (m *Manager) Start(ctx context.Context) *Metadata {
	if !m.cfg.Enabled {
		m.log.Info("egress disabled, not recording")
		return nil
	}
	if !m.cfg.S3.complete() {
		m.log.Warn("s3 configuration incomplete, not recording")
		return nil
	}
	if m.egress == nil {
		m.log.Warn("no egress client, not recording")
		return nil
	}

	info, err := m.egress.StartRoomCompositeEgress(ctx, m.request())
	if err != nil {
		m.log.Error("start egress failed", "err", err)
		return nil
	}

	actual := actualFilename(info)
	meta := &Metadata{
		Provider:     "s3",
		EgressID:     info.GetEgressId(),
		Filepath:     actual,
		Bucket:       m.cfg.S3.Bucket,
		Endpoint:     m.cfg.S3.Endpoint,
		RecordingURL: m.recordingURL(actual),
		Mode:         m.cfg.mode(),
		StartedAt:    m.clock().UTC().Format(time.RFC3339Nano),
	}

	m.mu.Lock()
	m.egressID = meta.EgressID
	m.meta = meta
	m.mu.Unlock()

	m.log.Info("egress started", "egress_id", meta.EgressID, "mode", meta.Mode, "recording_url", meta.RecordingURL)
	out := *meta
	return &out
}

func actualFilename(info *livekit.EgressInfo) string {
	if fr := info.GetFileResults(); len(fr) > 0 && fr[0].GetFilename() != "" {
		return fr[0].GetFilename()
	}
	if sr := info.GetSegmentResults(); len(sr) > 0 {
		return sr[0].GetPlaylistName()
	}
	return ""
}

// recordingURL builds the playable URL: the HLS playlist, or the MP4 object
// (the name reported by the egress, else the one we asked for).
func (m *Manager) recordingURL(actual string) string {
	base := strings.TrimRight(strings.TrimSpace(m.cfg.BaseURL), "/")
	if base == "" {
		m.log.Error("recording base url not set")
		return ""
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		m.log.Error("recording base url must be http(s)", "base_url", base)
		return ""
	}
	if m.cfg.UseHLS {
		return base + "/" + m.hlsPrefix() + "/" + m.cfg.PlaylistName
	}
	if actual != "" {
		return base + "/" + strings.TrimLeft(actual, "/")
	}
	return base + "/" + m.Filename()
}

// Stop ends the active egress. It is idempotent: with nothing active, or when
// the egress already completed, it reports success.
func (m *Manager) Stop(ctx context.Context) bool {
	m.mu.Lock()
	id := m.egressID
	m.mu.Unlock()
	if id == "" || m.egress == nil {
		m.log.Debug("no active egress to stop")
		return true
	}

	if _, err := m.egress.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: id}); err != nil {
		if !alreadyComplete(err) {
			m.log.Error("stop egress failed", "egress_id", id, "err", err)
			return false
		}
		m.log.Info("egress already complete", "egress_id", id)
	} else {
		m.log.Info("egress stopped", "egress_id", id)
	}

	m.mu.Lock()
	if m.egressID == id {
		m.egressID = ""
	}
	m.mu.Unlock()
	return true
}

func alreadyComplete(err error) bool {
	return strings.Contains(err.Error(), "cannot be stopped")
}

// Metadata returns a copy of the metadata from the last successful Start.
func (m *Manager) Metadata() *Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meta == nil {
		return nil
	}
	out := *m.meta
	return &out
}
