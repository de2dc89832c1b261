/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-13
 *
 * 采集源
 * Source 抽象麦克风与屏幕采集；SyntheticSource 产出静音 Opus / 占位 VP8，
 * 用于无设备环境（CI、服务端压测）
 */
package media

import (
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// AudioConstraints 麦克风音频处理约束
// DeviceSource 只记录不生效，见 DeviceSource.OpenMicrophone
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultAudioConstraints returns all processing enabled
func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Source opens capture devices
type Source interface {
	// OpenMicrophone requests an audio-only capture
	OpenMicrophone(c AudioConstraints) (*Stream, error)
	// OpenScreen requests a display capture with a single video track
	OpenScreen() (*Stream, error)
}

// Codec capabilities produced by every Source
var (
	OpusCapability = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}
	VP8Capability = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 100 * time.Millisecond
)

var (
	// Opus DTX 静音帧
	opusSilenceFrame = []byte{0xf8, 0xff, 0xfe}
	// 最小 VP8 关键帧头（1x1）
	vp8PlaceholderFrame = []byte{
		0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x01, 0x00, 0x01, 0x00,
		0x00, 0x47, 0x08, 0x85, 0x85, 0x88, 0x99, 0x84, 0x88, 0x0c,
	}
)

// SyntheticSource generates placeholder media without touching devices.
// Fail* fields inject acquisition errors.
type SyntheticSource struct {
	FailMicrophone error
	FailScreen     error

	mu      sync.Mutex
	last    AudioConstraints
	opened  int
	screens []*syntheticReader
}

// NewSyntheticSource creates a SyntheticSource
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{}
}

// OpenMicrophone implements Source
func (s *SyntheticSource) OpenMicrophone(c AudioConstraints) (*Stream, error) {
	s.mu.Lock()
	fail := s.FailMicrophone
	s.last = c
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	stream := NewStream(StreamKindMicrophone)
	stream.constraints = c
	track, err := NewLocalTrack(webrtc.RTPCodecTypeAudio, OpusCapability, stream.ID(),
		newSyntheticReader(opusSilenceFrame, audioFrameInterval))
	if err != nil {
		return nil, err
	}
	stream.AddTrack(track)

	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	return stream, nil
}

// OpenScreen implements Source
func (s *SyntheticSource) OpenScreen() (*Stream, error) {
	s.mu.Lock()
	fail := s.FailScreen
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	stream := NewStream(StreamKindScreen)
	reader := newSyntheticReader(vp8PlaceholderFrame, videoFrameInterval)
	track, err := NewLocalTrack(webrtc.RTPCodecTypeVideo, VP8Capability, stream.ID(), reader)
	if err != nil {
		return nil, err
	}
	stream.AddTrack(track)

	s.mu.Lock()
	s.opened++
	s.screens = append(s.screens, reader)
	s.mu.Unlock()
	return stream, nil
}

// LastConstraints returns the constraints of the latest microphone request
func (s *SyntheticSource) LastConstraints() AudioConstraints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Opened returns how many captures were opened
func (s *SyntheticSource) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// EndScreen simulates the OS revoking the latest screen capture
func (s *SyntheticSource) EndScreen() {
	s.mu.Lock()
	var r *syntheticReader
	if n := len(s.screens); n > 0 {
		r = s.screens[n-1]
	}
	s.mu.Unlock()
	if r != nil {
		r.end(io.EOF)
	}
}

type syntheticReader struct {
	payload  []byte
	interval time.Duration
	ticker   *time.Ticker

	once   sync.Once
	done   chan struct{}
	endErr chan error
}

func newSyntheticReader(payload []byte, interval time.Duration) *syntheticReader {
	return &syntheticReader{
		payload:  payload,
		interval: interval,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		endErr:   make(chan error, 1),
	}
}

func (r *syntheticReader) ReadSample() (pionmedia.Sample, error) {
	select {
	case <-r.done:
		return pionmedia.Sample{}, io.EOF
	case err := <-r.endErr:
		return pionmedia.Sample{}, err
	case <-r.ticker.C:
		return pionmedia.Sample{Data: r.payload, Duration: r.interval}, nil
	}
}

func (r *syntheticReader) Close() error {
	r.once.Do(func() {
		r.ticker.Stop()
		close(r.done)
	})
	return nil
}

func (r *syntheticReader) end(err error) {
	select {
	case r.endErr <- err:
	default:
	}
}
