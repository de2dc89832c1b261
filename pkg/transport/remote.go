/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-14
 *
 * 远端媒体
 * 按轨道类型分流：audio → 远端语音，video → 远端屏幕共享
 */
package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// MediaKind 远端媒体类型
type MediaKind int

const (
	MediaAudio MediaKind = iota
	MediaScreen
)

func (k MediaKind) String() string {
	if k == MediaAudio {
		return "audio"
	}
	return "screen"
}

// RemoteMedia is the tagged result of one inbound track: Audio or Screen
type RemoteMedia struct {
	Kind   MediaKind
	Stream *RemoteStream
}

// IsAudio reports the Audio variant
func (m RemoteMedia) IsAudio() bool { return m.Kind == MediaAudio }

// IsScreen reports the Screen variant
func (m RemoteMedia) IsScreen() bool { return m.Kind == MediaScreen }

// Classify maps the track kind to a RemoteMedia variant
func Classify(kind webrtc.RTPCodecType, s *RemoteStream) RemoteMedia {
	if kind == webrtc.RTPCodecTypeVideo {
		return RemoteMedia{Kind: MediaScreen, Stream: s}
	}
	return RemoteMedia{Kind: MediaAudio, Stream: s}
}

// RemoteStream 远端一路媒体
type RemoteStream struct {
	id      string
	trackID string
	mime    string

	packets atomic.Uint64

	mu   sync.Mutex
	sink func(pkt *rtp.Packet)
}

// NewRemoteStream creates a RemoteStream descriptor
func NewRemoteStream(streamID, trackID, mimeType string) *RemoteStream {
	return &RemoteStream{id: streamID, trackID: trackID, mime: mimeType}
}

// ID returns the remote stream id (msid)
func (s *RemoteStream) ID() string { return s.id }

// TrackID returns the remote track id
func (s *RemoteStream) TrackID() string { return s.trackID }

// MimeType returns the negotiated codec
func (s *RemoteStream) MimeType() string { return s.mime }

// Packets returns how many RTP packets were received
func (s *RemoteStream) Packets() uint64 { return s.packets.Load() }

// SetSink sets where received RTP packets go (playback / recording).
// Packets are dropped while no sink is set.
func (s *RemoteStream) SetSink(fn func(pkt *rtp.Packet)) {
	s.mu.Lock()
	s.sink = fn
	s.mu.Unlock()
}

// drain reads RTP until the track ends. With idle > 0 a silent period of
// that length reports the stream idle; the next packet reports it active.
func (s *RemoteStream) drain(track *webrtc.TrackRemote, m RemoteMedia, idle time.Duration, stats *TrafficStats, emit func(Event)) {
	buf := utils.GetBuffer(utils.ReadBufferSize)
	defer utils.PutBuffer(buf)

	var (
		lastSeq uint16
		haveSeq bool
		active  = true
	)

	for {
		if idle > 0 {
			_ = track.SetReadDeadline(time.Now().Add(idle))
		}
		n, _, err := track.Read(buf)
		if err != nil {
			if isTimeout(err) {
				if active {
					active = false
					utils.Debug("Remote %s stream %s idle", m.Kind, s.id)
					emit(Event{Kind: EventRemoteMediaIdle, Media: m})
				}
				continue
			}
			utils.Debug("Remote %s stream %s ended: %v", m.Kind, s.id, err)
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		s.packets.Add(1)
		stats.AddPacketIn(m.Kind, n)

		if haveSeq {
			if gap := pkt.SequenceNumber - lastSeq; gap > 1 && gap < 1<<15 {
				stats.AddPacketsLost(uint64(gap - 1))
			}
		}
		lastSeq, haveSeq = pkt.SequenceNumber, true

		if !active {
			active = true
			utils.Debug("Remote %s stream %s resumed", m.Kind, s.id)
			emit(Event{Kind: EventRemoteMedia, Media: m})
		}

		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		if sink != nil {
			// buf 会被复用
			payload := make([]byte, len(pkt.Payload))
			copy(payload, pkt.Payload)
			pkt.Payload = payload
			sink(pkt)
		}
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
