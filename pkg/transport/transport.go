/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-14
 *
 * Transport Adapter
 * 每个通话一个 PeerConnection；只负责把 pion 回调翻译成 Event，
 * 不做任何状态决策
 */
package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/utils"
)

var (
	// ErrClosed indicates the transport has been closed
	ErrClosed = errors.New("transport is closed")

	// ErrNoRemoteDescription indicates an answer was requested before an offer was applied
	ErrNoRemoteDescription = errors.New("remote description not set")
)

// DefaultScreenIdleTimeout 远端屏幕流无数据多久视为停止共享
const DefaultScreenIdleTimeout = 3 * time.Second

// PeerConfig Peer 创建参数
type PeerConfig struct {
	API           *webrtc.API
	Configuration webrtc.Configuration

	// 创建时的通话上下文纪元，随每个 Event 带回
	Epoch   uint64
	Handler Handler

	ScreenIdleTimeout time.Duration
}

// Peer wraps one PeerConnection
type Peer struct {
	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender

	epoch      uint64
	handler    Handler
	screenIdle time.Duration
	stats      *TrafficStats

	closed atomic.Bool
}

// NewPeer creates the PeerConnection and registers its callbacks
func NewPeer(cfg PeerConfig) (*Peer, error) {
	api := cfg.API
	if api == nil {
		var err error
		if api, err = NewAPI(DefaultConfig()); err != nil {
			return nil, err
		}
	}
	if cfg.ScreenIdleTimeout <= 0 {
		cfg.ScreenIdleTimeout = DefaultScreenIdleTimeout
	}

	pc, err := api.NewPeerConnection(cfg.Configuration)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		pc:         pc,
		senders:    make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		epoch:      cfg.Epoch,
		handler:    cfg.Handler,
		screenIdle: cfg.ScreenIdleTimeout,
		stats:      NewTrafficStats(),
	}
	p.setupEventHandlers()
	return p, nil
}

// Epoch returns the epoch the peer was created under
func (p *Peer) Epoch() uint64 { return p.epoch }

func (p *Peer) emit(ev Event) {
	if p.closed.Load() || p.handler == nil {
		return
	}
	ev.Epoch = p.epoch
	p.handler(ev)
}

// setupEventHandlers sets up WebRTC event handlers
func (p *Peer) setupEventHandlers() {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		stream := NewRemoteStream(track.StreamID(), track.ID(), track.Codec().MimeType)
		m := Classify(track.Kind(), stream)
		utils.Info("Remote %s track: stream=%s codec=%s", m.Kind, stream.ID(), stream.MimeType())

		p.emit(Event{Kind: EventRemoteMedia, Media: m})

		var idle time.Duration
		if m.IsScreen() {
			idle = p.screenIdle
		}
		go stream.drain(track, m, idle, p.stats, p.emit)
	})

	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			p.emit(Event{Kind: EventICECandidate, Candidate: candidate.ToJSON()})
		}
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		utils.Debug("Transport connection state: %s", state)
		p.emit(Event{Kind: EventConnectionState, State: state})
	})

	p.pc.OnNegotiationNeeded(func() {
		p.emit(Event{Kind: EventNegotiationNeeded})
	})
}

// CreateOffer creates an offer and applies it locally
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return webrtc.SessionDescription{}, ErrClosed
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

// CreateAnswer answers the applied remote offer
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if p.pc.RemoteDescription() == nil {
		return webrtc.SessionDescription{}, ErrNoRemoteDescription
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// SetRemoteDescription applies an offer or answer
func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return ErrClosed
	}
	return p.pc.SetRemoteDescription(desc)
}

// HasRemoteDescription reports whether candidates can be applied
func (p *Peer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

// Stable reports whether no offer/answer exchange is in flight
func (p *Peer) Stable() bool {
	return p.pc.SignalingState() == webrtc.SignalingStateStable
}

// AddICECandidate adds a remote ICE candidate
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.pc.AddICECandidate(candidate)
}

// SetTrack sends track as the local media of its kind. An existing sender
// of that kind has its track replaced in place (nil pauses sending);
// otherwise a new sender is added and added reports true.
func (p *Peer) SetTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (added bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return false, ErrClosed
	}

	if sender, ok := p.senders[kind]; ok {
		return false, sender.ReplaceTrack(track)
	}
	if track == nil {
		return false, nil
	}

	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return false, err
	}
	p.senders[kind] = sender

	// 读取 RTCP 反馈（必须消费，否则拦截器会阻塞）
	go p.readRTCP(sender)
	return true, nil
}

// Stats returns the inbound traffic snapshot
func (p *Peer) Stats() TrafficStatsSnapshot {
	p.stats.CalculateBitrate()
	return p.stats.Snapshot()
}

// Close closes the PeerConnection. Later calls are no-ops.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	p.senders = make(map[webrtc.RTPCodecType]*webrtc.RTPSender)
	p.mu.Unlock()
	return p.pc.Close()
}

// readRTCP 读取 RTCP 反馈
func (p *Peer) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
		p.stats.AddRTCPIn()
	}
}
