/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * Call Controller - 通话状态机
 * 每个聊天会话一个 Controller，一个事件循环 goroutine：
 * 用户操作、信令消息、传输回调、定时器都转成事件，在循环内逐个处理
 */
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/signaling"
	"github.com/maiguangyang/call_core/pkg/transport"
	"github.com/maiguangyang/call_core/pkg/utils"
)

// Transport is the per-call peer transport the controller drives
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	Stable() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SetTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (added bool, err error)
	Stats() transport.TrafficStatsSnapshot
	Close() error
}

// TransportFactory creates the transport of a new call. Events must be
// reported through handler.
type TransportFactory func(epoch uint64, handler transport.Handler) (Transport, error)

// PeerFactory returns a factory building pion peers from api
func PeerFactory(api *webrtc.API, cfg webrtc.Configuration, screenIdle time.Duration) TransportFactory {
	return func(epoch uint64, handler transport.Handler) (Transport, error) {
		return transport.NewPeer(transport.PeerConfig{
			API:               api,
			Configuration:     cfg,
			Epoch:             epoch,
			Handler:           handler,
			ScreenIdleTimeout: screenIdle,
		})
	}
}

// Options Controller 配置
type Options struct {
	ChatSessionID string
	LocalUserID   string

	Signaler     signaling.Signaler
	NewTransport TransportFactory
	MediaSource  media.Source
	Audio        media.AudioConstraints

	Clock clock.Clock
	// 无应答超时
	CallTimeout time.Duration
	// 挂断后复位延迟（隔离窗口）
	ResetDelay time.Duration
	// 时长刷新间隔
	TickInterval time.Duration

	Metrics *Metrics
}

// DefaultOptions returns the timing defaults
func DefaultOptions() Options {
	return Options{
		Audio:        media.DefaultAudioConstraints(),
		CallTimeout:  60 * time.Second,
		ResetDelay:   200 * time.Millisecond,
		TickInterval: time.Second,
	}
}

// Controller drives one chat session's call
type Controller struct {
	opts   Options
	clock  clock.Clock
	media  *media.Manager
	timer  *DurationTimer
	room   string
	self   string

	events chan interface{}
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	unsub     func()

	// 以下字段仅在事件循环内访问
	cc        *callContext
	epoch     uint64
	minimized bool
	lastError *CallError
	published State

	stateMu sync.RWMutex
	state   State

	notices chan func()

	cbMu          sync.RWMutex
	onStateChange func(State)
	onCallEnded   func(Summary)
	onError       func(*CallError)
}

// NewController validates opts and starts the event loop
func NewController(opts Options) (*Controller, error) {
	def := DefaultOptions()
	if opts.ChatSessionID == "" || opts.LocalUserID == "" {
		return nil, fmt.Errorf("%w: chat session and local user are required", ErrInvalidOptions)
	}
	if opts.Signaler == nil || opts.NewTransport == nil || opts.MediaSource == nil {
		return nil, fmt.Errorf("%w: signaler, transport factory and media source are required", ErrInvalidOptions)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = def.ResetDelay
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}

	c := &Controller{
		opts:    opts,
		clock:   opts.Clock,
		media:   media.NewManager(opts.MediaSource, opts.Audio),
		timer:   NewDurationTimer(opts.Clock, opts.TickInterval),
		room:    opts.ChatSessionID,
		self:    opts.LocalUserID,
		events:  make(chan interface{}, 256),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		notices: make(chan func(), 128),
	}
	c.media.SetOnScreenEnded(func(streamID string, err error) {
		c.post(screenEndedEvent{streamID: streamID})
	})

	c.state = c.snapshot()
	c.published = c.state

	sub, unsub := opts.Signaler.Subscribe()
	c.unsub = unsub

	go c.notify()
	go c.run(sub)

	utils.Info("[Call %s] Controller started for user %s", c.room, c.self)
	return c, nil
}

// SetOnStateChange sets the state observer
func (c *Controller) SetOnStateChange(fn func(State)) {
	c.cbMu.Lock()
	c.onStateChange = fn
	c.cbMu.Unlock()
}

// SetOnCallEnded sets the callback fired once per torn-down call
func (c *Controller) SetOnCallEnded(fn func(Summary)) {
	c.cbMu.Lock()
	c.onCallEnded = fn
	c.cbMu.Unlock()
}

// SetOnError sets the callback for user-facing failures
func (c *Controller) SetOnError(fn func(*CallError)) {
	c.cbMu.Lock()
	c.onError = fn
	c.cbMu.Unlock()
}

// State returns the latest published snapshot
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// StartCall places an outgoing call
func (c *Controller) StartCall(ctx context.Context) error {
	return c.do(ctx, c.startCall)
}

// AcceptCall answers the ringing call
func (c *Controller) AcceptCall(ctx context.Context) error {
	return c.do(ctx, c.acceptCall)
}

// RejectCall declines the ringing call (or ends any other call)
func (c *Controller) RejectCall(ctx context.Context) error {
	return c.do(ctx, func() error {
		return c.hangup(EndReasonRejected)
	})
}

// EndCall hangs up. Ending with no call is a no-op.
func (c *Controller) EndCall(ctx context.Context) error {
	return c.do(ctx, func() error {
		return c.hangup(EndReasonLocal)
	})
}

// StartScreenShare adds a screen capture to the connected call
func (c *Controller) StartScreenShare(ctx context.Context) error {
	return c.do(ctx, c.startScreenShare)
}

// StopScreenShare stops the screen capture
func (c *Controller) StopScreenShare(ctx context.Context) error {
	return c.do(ctx, c.stopScreenShare)
}

// ToggleCallMinimize flips the minimized flag
func (c *Controller) ToggleCallMinimize(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.minimized = !c.minimized
		return nil
	})
}

// ToggleMute flips the microphone enabled flag
func (c *Controller) ToggleMute(ctx context.Context) error {
	return c.do(ctx, func() error {
		muted := c.media.ToggleMute()
		utils.Debug("[Call %s] Muted=%v", c.room, muted)
		return nil
	})
}

// Stats returns the traffic snapshot of the current call
func (c *Controller) Stats(ctx context.Context) (transport.TrafficStatsSnapshot, error) {
	var snap transport.TrafficStatsSnapshot
	err := c.do(ctx, func() error {
		if c.cc == nil || c.cc.transport == nil {
			return ErrNoCall
		}
		snap = c.cc.transport.Stats()
		return nil
	})
	return snap, err
}

// Close tears down any call, releases every device and stops the loop.
// It returns after the transport is closed and all tracks are stopped.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.done
	return nil
}

type actionEvent struct {
	fn    func() error
	reply chan error
}

// do runs fn on the loop and waits for its result
func (c *Controller) do(ctx context.Context, fn func() error) error {
	ev := actionEvent{fn: fn, reply: make(chan error, 1)}
	select {
	case c.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// post enqueues an event without blocking the caller
func (c *Controller) post(ev interface{}) {
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		// 队列满时交给独立 goroutine，回调方不能被阻塞
		go func() {
			select {
			case c.events <- ev:
			case <-c.done:
			}
		}()
	}
}

func (c *Controller) run(sub <-chan signaling.Message) {
	defer close(c.done)

	for {
		select {
		case <-c.quit:
			c.shutdown()
			return

		case msg, ok := <-sub:
			if !ok {
				utils.Warn("[Call %s] Signaling subscription closed", c.room)
				sub = nil
				continue
			}
			c.handleSignal(msg)

		case ev := <-c.events:
			c.dispatch(ev)
		}
		c.publish()
	}
}

func (c *Controller) dispatch(ev interface{}) {
	switch e := ev.(type) {
	case actionEvent:
		err := e.fn()
		c.publish()
		e.reply <- err
	case transportEvent:
		c.handleTransport(e.ev)
	case timeoutEvent:
		c.handleTimeout(e.epoch)
	case resetEvent:
		c.handleReset(e.epoch)
	case tickEvent:
		c.handleTick(e.epoch)
	case screenEndedEvent:
		c.handleScreenEnded(e.streamID)
	}
}

// publish stores the snapshot and notifies observers on change
func (c *Controller) publish() {
	s := c.snapshot()
	if s == c.published {
		return
	}
	c.published = s

	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()

	c.cbMu.RLock()
	fn := c.onStateChange
	c.cbMu.RUnlock()
	if fn != nil {
		c.enqueueNotice(func() { fn(s) })
	}
}

func (c *Controller) emitEnded(sum Summary) {
	c.cbMu.RLock()
	fn := c.onCallEnded
	c.cbMu.RUnlock()
	if fn != nil {
		c.enqueueNotice(func() { fn(sum) })
	}
}

func (c *Controller) emitError(err *CallError) {
	c.lastError = err
	c.cbMu.RLock()
	fn := c.onError
	c.cbMu.RUnlock()
	if fn != nil {
		c.enqueueNotice(func() { fn(err) })
	}
}

func (c *Controller) enqueueNotice(fn func()) {
	select {
	case c.notices <- fn:
	default:
		utils.Warn("[Call %s] Observer queue full, delivering out of band", c.room)
		go fn()
	}
}

// notify 在独立 goroutine 中回调观察者，观察者可以安全调用 Controller
func (c *Controller) notify() {
	for {
		select {
		case fn := <-c.notices:
			fn()
		case <-c.done:
			for {
				select {
				case fn := <-c.notices:
					fn()
				default:
					return
				}
			}
		}
	}
}

// shutdown 进程退出/界面卸载：同步释放所有资源
func (c *Controller) shutdown() {
	if c.cc != nil {
		if c.cc.status() != StatusEnding {
			c.teardown(EndReasonClosed, false)
		}
		if c.cc.resetTimer != nil {
			c.cc.resetTimer.Stop()
		}
		c.cc = nil
	}
	c.media.ReleaseAll()
	c.timer.Stop()
	if c.unsub != nil {
		c.unsub()
	}
	c.publish()
	utils.Info("[Call %s] Controller closed", c.room)
}
