/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * 测试替身：内存传输 + Hub 信令 + 模拟时钟
 */
package call

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/signaling"
	"github.com/maiguangyang/call_core/pkg/transport"
)

type fakeTransport struct {
	mu         sync.Mutex
	epoch      uint64
	handler    transport.Handler
	remote     *webrtc.SessionDescription
	offers     int
	candidates []webrtc.ICECandidateInit
	senders    map[webrtc.RTPCodecType]bool
	tracks     map[webrtc.RTPCodecType]webrtc.TrackLocal
	closed     bool
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return webrtc.SessionDescription{}, transport.ErrClosed
	}
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", f.epoch, f.offers)}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return webrtc.SessionDescription{}, transport.ErrNoRemoteDescription
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + f.remote.SDP}, nil
}

func (f *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.remote = &desc
	return nil
}

func (f *fakeTransport) HasRemoteDescription() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote != nil
}

func (f *fakeTransport) Stable() bool { return true }

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) SetTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (bool, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false, transport.ErrClosed
	}
	if f.senders[kind] {
		f.tracks[kind] = track
		f.mu.Unlock()
		return false, nil
	}
	if track == nil {
		f.mu.Unlock()
		return false, nil
	}
	f.senders[kind] = true
	f.tracks[kind] = track
	f.mu.Unlock()

	// 与 pion 一样，新增 sender 触发重协商
	f.emit(transport.Event{Kind: transport.EventNegotiationNeeded})
	return true, nil
}

func (f *fakeTransport) Stats() transport.TrafficStatsSnapshot {
	return transport.TrafficStatsSnapshot{AudioPacketsIn: 42}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) emit(ev transport.Event) {
	ev.Epoch = f.epoch
	f.handler(ev)
}

func (f *fakeTransport) emitState(state webrtc.PeerConnectionState) {
	f.emit(transport.Event{Kind: transport.EventConnectionState, State: state})
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracks[kind]
}

func (f *fakeTransport) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeTransport
	err     error
}

func (f *fakeFactory) New(epoch uint64, handler transport.Handler) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tr := &fakeTransport{
		epoch:   epoch,
		handler: handler,
		senders: make(map[webrtc.RTPCodecType]bool),
		tracks:  make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}
	f.created = append(f.created, tr)
	return tr, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

type party struct {
	t       *testing.T
	user    string
	c       *Controller
	peer    *signaling.HubPeer
	factory *fakeFactory
	source  *media.SyntheticSource
	metrics *Metrics
	ended   chan Summary
	errs    chan *CallError

	mu         sync.Mutex
	violations []string
}

const testRoom = "chat-1"

func newParty(t *testing.T, clk clock.Clock, hub *signaling.Hub, user string) *party {
	t.Helper()
	p := &party{
		t:       t,
		user:    user,
		peer:    hub.Join(testRoom, user),
		factory: &fakeFactory{},
		source:  media.NewSyntheticSource(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		ended:   make(chan Summary, 16),
		errs:    make(chan *CallError, 16),
	}

	opts := DefaultOptions()
	opts.ChatSessionID = testRoom
	opts.LocalUserID = user
	opts.Signaler = p.peer
	opts.NewTransport = p.factory.New
	opts.MediaSource = p.source
	opts.Clock = clk
	opts.Metrics = p.metrics

	c, err := NewController(opts)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	c.SetOnCallEnded(func(s Summary) { p.ended <- s })
	c.SetOnError(func(e *CallError) { p.errs <- e })
	c.SetOnStateChange(func(s State) {
		if s.HasTransport != (s.CallStatus != StatusIdle) {
			p.mu.Lock()
			p.violations = append(p.violations, fmt.Sprintf("status=%s hasTransport=%v", s.CallStatus, s.HasTransport))
			p.mu.Unlock()
		}
	})
	p.c = c
	t.Cleanup(func() {
		c.Close()
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, v := range p.violations {
			t.Errorf("%s: transport invariant violated: %s", user, v)
		}
	})
	return p
}

func newRig(t *testing.T) (*clock.Mock, *party, *party) {
	t.Helper()
	clk := clock.NewMock()
	hub := signaling.NewHub()
	return clk, newParty(t, clk, hub, "alice"), newParty(t, clk, hub, "bob")
}

func (p *party) waitState(desc string, match func(State) bool) State {
	p.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		s := p.c.State()
		if match(s) {
			return s
		}
		if time.Now().After(deadline) {
			p.t.Fatalf("%s: timed out waiting for %s (status=%s)", p.user, desc, s.CallStatus)
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (p *party) waitStatus(status Status) State {
	p.t.Helper()
	return p.waitState(status.String(), func(s State) bool { return s.CallStatus == status })
}

func (p *party) waitEnded() Summary {
	p.t.Helper()
	select {
	case s := <-p.ended:
		return s
	case <-time.After(3 * time.Second):
		p.t.Fatalf("%s: call ended not reported", p.user)
		return Summary{}
	}
}

// sent returns the messages of type mt this party sent
func (p *party) sent(mt signaling.MessageType) []signaling.Message {
	var out []signaling.Message
	for _, m := range p.peer.Sent() {
		if m.Type() == mt {
			out = append(out, m)
		}
	}
	return out
}

// inject 直接交给本端事件循环处理，不经过 Hub 广播
func (p *party) inject(msg signaling.Message) {
	p.t.Helper()
	err := p.c.do(testCtx(p.t), func() error {
		p.c.handleSignal(msg)
		return nil
	})
	if err != nil {
		p.t.Fatal(err)
	}
}

// settle 等待事件循环处理完已投递的事件
func (p *party) settle() {
	p.t.Helper()
	if err := p.c.ToggleCallMinimize(testCtx(p.t)); err != nil {
		p.t.Fatal(err)
	}
	if err := p.c.ToggleCallMinimize(testCtx(p.t)); err != nil {
		p.t.Fatal(err)
	}
}

// connect drives alice → bob to Connected on both sides
func connect(t *testing.T, alice, bob *party) {
	t.Helper()
	ctx := testCtx(t)
	if err := alice.c.StartCall(ctx); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	bob.waitStatus(StatusRinging)
	if err := bob.c.AcceptCall(ctx); err != nil {
		t.Fatalf("AcceptCall failed: %v", err)
	}
	alice.waitStatus(StatusConnecting)

	alice.factory.last().emitState(webrtc.PeerConnectionStateConnected)
	bob.factory.last().emitState(webrtc.PeerConnectionStateConnected)
	alice.waitStatus(StatusConnected)
	bob.waitStatus(StatusConnected)
}
