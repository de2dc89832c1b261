/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-13
 *
 * LocalTrack - 本地采集轨道
 * 采集端产出编码后的 Sample，经 TrackLocalStaticSample 打包成 RTP
 * enabled=false 时丢弃 Sample（静音），不会触发重协商
 */
package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/maiguangyang/call_core/pkg/utils"
)

var (
	// ErrNoCaptureDevice indicates no usable device exists on this platform
	ErrNoCaptureDevice = errors.New("no capture device available")

	// ErrPermissionDenied indicates the user or OS refused the device
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrTrackStopped indicates a stopped track was used
	ErrTrackStopped = errors.New("track is stopped")
)

// SampleReader 产出已编码的媒体帧；采集结束时返回错误（io.EOF 等）
type SampleReader interface {
	ReadSample() (pionmedia.Sample, error)
	Close() error
}

// LocalTrack is one captured audio or video track
type LocalTrack struct {
	id     string
	kind   webrtc.RTPCodecType
	local  *webrtc.TrackLocalStaticSample
	reader SampleReader

	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded func(err error)
	ended   bool
	endErr  error
}

// NewLocalTrack wraps reader into a sendable track and starts pumping
func NewLocalTrack(kind webrtc.RTPCodecType, codec webrtc.RTPCodecCapability, streamID string, reader SampleReader) (*LocalTrack, error) {
	id := kind.String() + "-" + uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}

	t := &LocalTrack{
		id:     id,
		kind:   kind,
		local:  local,
		reader: reader,
	}
	t.enabled.Store(true)

	go t.pump()
	return t, nil
}

// ID returns the track ID
func (t *LocalTrack) ID() string { return t.id }

// Kind returns audio or video
func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.kind }

// TrackLocal returns the pion track to hand to an RTPSender
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.local }

// Enabled reports whether samples are forwarded
func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// SetEnabled flips forwarding. A stopped track stays disabled.
func (t *LocalTrack) SetEnabled(v bool) {
	if t.stopped.Load() {
		return
	}
	t.enabled.Store(v)
}

// Stopped reports whether the capture has been released
func (t *LocalTrack) Stopped() bool { return t.stopped.Load() }

// OnEnded sets a callback fired once when the capture ends on its own
// (device unplugged, capture revoked). It is not fired by Stop. If the
// capture already ended, fn runs immediately on the caller's goroutine.
func (t *LocalTrack) OnEnded(fn func(err error)) {
	t.mu.Lock()
	t.onEnded = fn
	ended, err := t.ended, t.endErr
	t.mu.Unlock()
	if ended && fn != nil {
		fn(err)
	}
}

// Stop disables the track and releases the device. Idempotent.
func (t *LocalTrack) Stop() error {
	if t.stopped.Swap(true) {
		return nil
	}
	t.enabled.Store(false)
	return t.reader.Close()
}

func (t *LocalTrack) pump() {
	for {
		sample, err := t.reader.ReadSample()
		if err != nil {
			if t.stopped.Swap(true) {
				return
			}
			// 采集端自行结束
			t.enabled.Store(false)
			_ = t.reader.Close()
			utils.Warn("Local %s track %s ended: %v", t.kind, t.id, err)

			t.mu.Lock()
			t.ended, t.endErr = true, err
			fn := t.onEnded
			t.mu.Unlock()
			if fn != nil {
				fn(err)
			}
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.local.WriteSample(sample); err != nil {
			utils.Debug("Local %s track %s write: %v", t.kind, t.id, err)
		}
	}
}

// StreamKind distinguishes microphone and screen captures
type StreamKind int

const (
	StreamKindMicrophone StreamKind = iota
	StreamKindScreen
)

func (k StreamKind) String() string {
	switch k {
	case StreamKindMicrophone:
		return "microphone"
	case StreamKindScreen:
		return "screen"
	default:
		return "unknown"
	}
}

// Stream groups the tracks of one capture
type Stream struct {
	id          string
	kind        StreamKind
	tracks      []*LocalTrack
	constraints AudioConstraints
}

// NewStream creates a stream; tracks are added by the Source
func NewStream(kind StreamKind) *Stream {
	return &Stream{id: uuid.NewString(), kind: kind}
}

// ID returns the stream ID (msid)
func (s *Stream) ID() string { return s.id }

// Kind returns microphone or screen
func (s *Stream) Kind() StreamKind { return s.kind }

// Constraints returns the audio processing requested at capture time
func (s *Stream) Constraints() AudioConstraints { return s.constraints }

// Tracks returns all tracks
func (s *Stream) Tracks() []*LocalTrack { return s.tracks }

// AddTrack appends a track
func (s *Stream) AddTrack(t *LocalTrack) { s.tracks = append(s.tracks, t) }

// TracksOf returns the tracks of one kind
func (s *Stream) TracksOf(kind webrtc.RTPCodecType) []*LocalTrack {
	var out []*LocalTrack
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// ended reports whether every track has stopped
func (s *Stream) ended() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return len(s.tracks) > 0
}

// Stop stops every track
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			utils.Debug("Stream %s: stop track %s: %v", s.id, t.id, err)
		}
	}
}
