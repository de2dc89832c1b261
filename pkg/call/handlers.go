/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * 事件处理：用户操作、信令消息、传输事件、定时器
 * 全部在事件循环内执行
 */
package call

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/signaling"
	"github.com/maiguangyang/call_core/pkg/transport"
	"github.com/maiguangyang/call_core/pkg/utils"
)

type transportEvent struct{ ev transport.Event }

type timeoutEvent struct{ epoch uint64 }

type resetEvent struct{ epoch uint64 }

type tickEvent struct{ epoch uint64 }

type screenEndedEvent struct{ streamID string }

func (c *Controller) newContext(dir Direction, initiator, peerID string) *callContext {
	c.epoch++
	return &callContext{
		epoch:     c.epoch,
		direction: dir,
		peerID:    peerID,
		session: CallSession{
			ChatSessionID: c.room,
			InitiatorID:   initiator,
			Status:        StatusIdle,
			StartedAt:     c.clock.Now(),
		},
	}
}

func (c *Controller) onTransportEvent(ev transport.Event) {
	c.post(transportEvent{ev: ev})
}

func (c *Controller) header() signaling.Header {
	return signaling.Header{ChatSessionID: c.room, From: c.self}
}

func (c *Controller) send(msg signaling.Message) error {
	return c.opts.Signaler.Send(msg)
}

func (c *Controller) armTimeout(cc *callContext) {
	epoch := cc.epoch
	cc.timeoutTimer = c.clock.AfterFunc(c.opts.CallTimeout, func() {
		c.post(timeoutEvent{epoch: epoch})
	})
}

// fail surfaces a user-facing error and ends the call locally
func (c *Controller) fail(code ErrorCode, message string, err error) error {
	ce := newCallError(code, message, err)
	utils.Error("[Call %s] %v", c.room, ce)
	c.emitError(ce)
	c.teardown(EndReasonFailed, false)
	return ce
}

func (c *Controller) attachMicrophone(cc *callContext, mic *media.Stream) error {
	tracks := mic.TracksOf(webrtc.RTPCodecTypeAudio)
	if len(tracks) == 0 {
		return media.ErrNoCaptureDevice
	}
	_, err := cc.transport.SetTrack(webrtc.RTPCodecTypeAudio, tracks[0].TrackLocal())
	return err
}

func (c *Controller) flushCandidates(cc *callContext) {
	for _, cand := range cc.pendingCandidates {
		if err := cc.transport.AddICECandidate(cand); err != nil {
			utils.Warn("[Call %s] Buffered ICE candidate rejected: %v", c.room, err)
		}
	}
	cc.pendingCandidates = nil
}

// ---- 用户操作 ----

func (c *Controller) startCall() error {
	if c.cc != nil {
		utils.Debug("[Call %s] StartCall ignored in status %s", c.room, c.cc.status())
		return ErrCallInProgress
	}
	if !c.opts.Signaler.Connected() {
		ce := newCallError(CodeSignalingUnavailable, "signaling channel unavailable", ErrSignalingUnavailable)
		utils.Warn("[Call %s] %v", c.room, ce)
		c.emitError(ce)
		return ce
	}
	c.lastError = nil

	cc := c.newContext(DirectionOutgoing, c.self, "")
	tr, err := c.opts.NewTransport(cc.epoch, c.onTransportEvent)
	if err != nil {
		ce := newCallError(CodeTransportFailed, "failed to create transport", err)
		utils.Error("[Call %s] %v", c.room, ce)
		c.emitError(ce)
		return ce
	}
	cc.transport = tr
	cc.setStatus(StatusCalling)
	c.cc = cc
	c.opts.Metrics.started()
	utils.Info("[Call %s] Outgoing call started", c.room)

	mic, err := c.media.AcquireMicrophone()
	if err != nil {
		return c.fail(CodeMediaPermissionDenied, "microphone unavailable", err)
	}
	if err := c.attachMicrophone(cc, mic); err != nil {
		return c.fail(CodeNegotiationFailed, "failed to attach microphone", err)
	}

	offer, err := tr.CreateOffer()
	if err != nil {
		return c.fail(CodeNegotiationFailed, "failed to create offer", err)
	}
	if err := c.send(&signaling.Offer{Header: c.header(), Offer: offer}); err != nil {
		return c.fail(CodeSignalingUnavailable, "failed to send offer", err)
	}
	cc.offerSent = true
	c.armTimeout(cc)
	return nil
}

func (c *Controller) acceptCall() error {
	cc := c.cc
	if cc == nil || cc.status() != StatusRinging {
		return ErrNotRinging
	}
	c.lastError = nil

	mic, err := c.media.AcquireMicrophone()
	if err != nil {
		return c.fail(CodeMediaPermissionDenied, "microphone unavailable", err)
	}

	if cc.remoteOffer == nil {
		return c.fail(CodeNegotiationFailed, "no offer to answer", transport.ErrNoRemoteDescription)
	}
	if err := cc.transport.SetRemoteDescription(*cc.remoteOffer); err != nil {
		return c.fail(CodeNegotiationFailed, "failed to apply offer", err)
	}
	cc.remoteOffer = nil
	c.flushCandidates(cc)

	if err := c.attachMicrophone(cc, mic); err != nil {
		return c.fail(CodeNegotiationFailed, "failed to attach microphone", err)
	}
	answer, err := cc.transport.CreateAnswer()
	if err != nil {
		return c.fail(CodeNegotiationFailed, "failed to create answer", err)
	}
	if err := c.send(&signaling.Answer{Header: c.header(), Answer: answer}); err != nil {
		return c.fail(CodeSignalingUnavailable, "failed to send answer", err)
	}
	cc.answerSent = true
	cc.stopTimeout()
	cc.setStatus(StatusConnecting)
	utils.Info("[Call %s] Call accepted", c.room)
	return nil
}

func (c *Controller) hangup(reason EndReason) error {
	cc := c.cc
	if cc == nil || cc.status() == StatusEnding {
		// 重复挂断
		return nil
	}
	c.teardown(reason, false)
	return nil
}

func (c *Controller) startScreenShare() error {
	cc := c.cc
	if cc == nil || cc.status() != StatusConnected {
		return ErrNotConnected
	}
	if c.media.Screen() != nil {
		return nil
	}

	s, err := c.media.AcquireScreen()
	if err != nil {
		return c.fail(CodeScreenCaptureFailed, "screen capture unavailable", err)
	}
	tracks := s.TracksOf(webrtc.RTPCodecTypeVideo)
	if len(tracks) == 0 {
		c.media.ReleaseScreen()
		return c.fail(CodeScreenCaptureFailed, "screen capture has no video", media.ErrNoCaptureDevice)
	}

	added, err := cc.transport.SetTrack(webrtc.RTPCodecTypeVideo, tracks[0].TrackLocal())
	if err != nil {
		c.media.ReleaseScreen()
		ce := newCallError(CodeNegotiationFailed, "failed to send screen", err)
		utils.Error("[Call %s] %v", c.room, ce)
		c.emitError(ce)
		return ce
	}
	utils.Info("[Call %s] Screen share started (new sender=%v)", c.room, added)
	return nil
}

func (c *Controller) stopScreenShare() error {
	if c.media.Screen() == nil {
		return nil
	}
	if cc := c.cc; cc != nil && cc.status() == StatusConnected {
		if _, err := cc.transport.SetTrack(webrtc.RTPCodecTypeVideo, nil); err != nil {
			utils.Warn("[Call %s] Pausing screen sender failed: %v", c.room, err)
		}
	}
	c.media.ReleaseScreen()
	utils.Info("[Call %s] Screen share stopped", c.room)
	return nil
}

// ---- 信令 ----

func (c *Controller) handleSignal(msg signaling.Message) {
	// 广播信道会回显自己发出的消息
	if signaling.IsEcho(msg, c.self) {
		return
	}
	h := msg.Head()
	if h.ChatSessionID != c.room {
		utils.Debug("[Call %s] Ignoring %s for session %s", c.room, msg.Type(), h.ChatSessionID)
		return
	}
	if cc := c.cc; cc != nil && cc.peerID != "" && h.From != cc.peerID {
		utils.Debug("[Call %s] Ignoring %s from third party %s", c.room, msg.Type(), h.From)
		return
	}

	switch m := msg.(type) {
	case *signaling.Offer:
		c.handleOffer(m)
	case *signaling.Answer:
		c.handleAnswer(m)
	case *signaling.ICECandidate:
		c.handleCandidate(m)
	case *signaling.CallEnded:
		c.handleCallEnded(m)
	}
}

func (c *Controller) handleOffer(m *signaling.Offer) {
	cc := c.cc
	if cc == nil {
		c.incomingCall(m)
		return
	}
	if cc.status() == StatusConnected {
		c.answerRenegotiation(cc, m.Offer)
		return
	}
	if cc.status() == StatusCalling && cc.direction == DirectionOutgoing && c.self < m.From {
		c.yieldToOffer(cc, m)
		return
	}
	utils.Debug("[Call %s] Ignoring offer from %s in status %s", c.room, m.From, cc.status())
}

// yieldToOffer resolves two simultaneous StartCalls: the smaller user ID
// drops its own attempt and answers the peer's offer, the larger one keeps
// calling and ignores the offer it receives.
func (c *Controller) yieldToOffer(cc *callContext, m *signaling.Offer) {
	utils.Info("[Call %s] Both sides called, yielding to %s", c.room, m.From)
	cc.stopTimeout()
	if err := cc.transport.Close(); err != nil {
		utils.Warn("[Call %s] Closing transport: %v", c.room, err)
	}
	// 对端的候选是按它的 offer 采集的，留给新的会话
	pending := cc.pendingCandidates
	c.opts.Metrics.ended(EndReasonGlare, 0, false)
	c.cc = nil

	c.incomingCall(m)
	next := c.cc
	if next == nil {
		c.media.ReleaseAll()
		return
	}
	next.pendingCandidates = append(pending, next.pendingCandidates...)
	// 本端已经表达了通话意图，直接接听；麦克风沿用外呼时获取的那一路
	if err := c.acceptCall(); err != nil {
		utils.Warn("[Call %s] Auto-accept after glare failed: %v", c.room, err)
	}
}

func (c *Controller) incomingCall(m *signaling.Offer) {
	cc := c.newContext(DirectionIncoming, m.From, m.From)
	tr, err := c.opts.NewTransport(cc.epoch, c.onTransportEvent)
	if err != nil {
		ce := newCallError(CodeTransportFailed, "failed to create transport", err)
		utils.Error("[Call %s] %v", c.room, ce)
		c.emitError(ce)
		// 主叫仍在振铃，告知对方
		c.sendEnded(cc, nil)
		return
	}

	offer := m.Offer
	cc.remoteOffer = &offer
	cc.transport = tr
	cc.setStatus(StatusRinging)
	c.cc = cc
	c.lastError = nil
	c.armTimeout(cc)
	c.opts.Metrics.received()
	utils.Info("[Call %s] Incoming call from %s", c.room, m.From)
}

func (c *Controller) handleAnswer(m *signaling.Answer) {
	cc := c.cc
	if cc == nil {
		c.opts.Metrics.stale()
		return
	}

	switch cc.status() {
	case StatusCalling:
		if err := cc.transport.SetRemoteDescription(m.Answer); err != nil {
			c.fail(CodeNegotiationFailed, "failed to apply answer", err)
			return
		}
		cc.peerID = m.From
		c.flushCandidates(cc)
		cc.stopTimeout()
		cc.setStatus(StatusConnecting)
		utils.Info("[Call %s] Answer received from %s", c.room, m.From)

	case StatusConnected:
		// 重协商应答
		if err := cc.transport.SetRemoteDescription(m.Answer); err != nil {
			utils.Warn("[Call %s] Renegotiation answer rejected: %v", c.room, err)
		}

	default:
		utils.Debug("[Call %s] Ignoring answer in status %s", c.room, cc.status())
	}
}

func (c *Controller) handleCandidate(m *signaling.ICECandidate) {
	cc := c.cc
	if cc == nil || cc.status() == StatusEnding {
		c.opts.Metrics.stale()
		return
	}
	if !cc.transport.HasRemoteDescription() {
		cc.pendingCandidates = append(cc.pendingCandidates, m.Candidate)
		return
	}
	if err := cc.transport.AddICECandidate(m.Candidate); err != nil {
		utils.Warn("[Call %s] ICE candidate rejected: %v", c.room, err)
	}
}

func (c *Controller) handleCallEnded(m *signaling.CallEnded) {
	cc := c.cc
	if cc == nil || cc.status() == StatusEnding {
		// 本端已挂断或已复位
		c.opts.Metrics.stale()
		return
	}
	utils.Info("[Call %s] Remote hangup from %s", c.room, m.From)
	c.teardown(EndReasonRemote, true)
}

func (c *Controller) answerRenegotiation(cc *callContext, offer webrtc.SessionDescription) {
	if err := cc.transport.SetRemoteDescription(offer); err != nil {
		utils.Warn("[Call %s] Renegotiation offer rejected: %v", c.room, err)
		return
	}
	answer, err := cc.transport.CreateAnswer()
	if err != nil {
		utils.Warn("[Call %s] Renegotiation answer failed: %v", c.room, err)
		return
	}
	if err := c.send(&signaling.Answer{Header: c.header(), Answer: answer}); err != nil {
		utils.Warn("[Call %s] Sending renegotiation answer failed: %v", c.room, err)
	}
}

func (c *Controller) sendRenegotiationOffer(cc *callContext) {
	if !cc.transport.Stable() {
		utils.Debug("[Call %s] Renegotiation deferred, signaling not stable", c.room)
		return
	}
	offer, err := cc.transport.CreateOffer()
	if err != nil {
		utils.Warn("[Call %s] Renegotiation offer failed: %v", c.room, err)
		return
	}
	if err := c.send(&signaling.Offer{Header: c.header(), Offer: offer}); err != nil {
		utils.Warn("[Call %s] Sending renegotiation offer failed: %v", c.room, err)
	}
}

// ---- 传输事件 ----

func (c *Controller) handleTransport(ev transport.Event) {
	cc := c.cc
	if cc == nil || ev.Epoch != cc.epoch || cc.status() == StatusEnding {
		c.opts.Metrics.stale()
		return
	}

	switch ev.Kind {
	case transport.EventICECandidate:
		err := c.send(&signaling.ICECandidate{Header: c.header(), Candidate: ev.Candidate})
		if err != nil && !errors.Is(err, signaling.ErrNotConnected) {
			utils.Warn("[Call %s] Sending ICE candidate failed: %v", c.room, err)
		}

	case transport.EventConnectionState:
		switch ev.State {
		case webrtc.PeerConnectionStateConnected:
			cc.networkDegraded = false
			if cc.status() == StatusConnecting {
				c.enterConnected(cc)
			}
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			// 只记录，不自动挂断
			cc.networkDegraded = true
			utils.Warn("[Call %s] Network path %s", c.room, ev.State)
		}

	case transport.EventRemoteMedia:
		if ev.Media.IsAudio() {
			cc.remoteAudio = ev.Media.Stream
		} else {
			cc.remoteScreen = ev.Media.Stream
		}

	case transport.EventRemoteMediaIdle:
		if ev.Media.IsScreen() && cc.remoteScreen == ev.Media.Stream {
			cc.remoteScreen = nil
		}

	case transport.EventNegotiationNeeded:
		if cc.status() == StatusConnected {
			c.sendRenegotiationOffer(cc)
		}
	}
}

func (c *Controller) enterConnected(cc *callContext) {
	cc.setStatus(StatusConnected)
	epoch := cc.epoch
	at := c.timer.Start(func() {
		c.post(tickEvent{epoch: epoch})
	})
	cc.session.ConnectedAt = &at
	cc.session.DurationSeconds = 0
	c.opts.Metrics.connected()
	utils.Info("[Call %s] Call connected", c.room)
}

// ---- 定时器 ----

func (c *Controller) handleTimeout(epoch uint64) {
	cc := c.cc
	if cc == nil || cc.epoch != epoch {
		return
	}
	cc.timeoutTimer = nil

	// 触发时读取实时状态
	switch cc.status() {
	case StatusCalling, StatusRinging:
		utils.Info("[Call %s] No answer within %s", c.room, c.opts.CallTimeout)
		c.teardown(EndReasonTimeout, false)
	}
}

func (c *Controller) handleTick(epoch uint64) {
	cc := c.cc
	if cc == nil || cc.epoch != epoch || cc.status() != StatusConnected {
		return
	}
	cc.session.DurationSeconds = c.timer.Elapsed()
}

func (c *Controller) handleReset(epoch uint64) {
	cc := c.cc
	if cc == nil || cc.epoch != epoch || cc.status() != StatusEnding {
		return
	}
	cc.setStatus(StatusIdle)
	c.cc = nil
	c.minimized = false
	utils.Debug("[Call %s] Session reset", c.room)
}

func (c *Controller) handleScreenEnded(streamID string) {
	cc := c.cc
	if cc == nil || cc.status() != StatusConnected {
		return
	}
	if _, err := cc.transport.SetTrack(webrtc.RTPCodecTypeVideo, nil); err != nil {
		utils.Warn("[Call %s] Pausing screen sender failed: %v", c.room, err)
	}
	utils.Info("[Call %s] Screen capture %s ended, share stopped", c.room, streamID)
}
