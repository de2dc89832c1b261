/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * 通话会话与通话上下文
 * callContext 由事件循环独占；定时器与传输回调只持有 epoch，
 * 触发时回到循环里与当前上下文比对
 */
package call

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/transport"
)

// CallSession is the record of one call
type CallSession struct {
	ChatSessionID   string     `json:"chatSessionId"`
	InitiatorID     string     `json:"initiatorId"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	ConnectedAt     *time.Time `json:"connectedAt,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
}

// Summary describes a finished call
type Summary struct {
	ChatSessionID   string    `json:"chatSessionId"`
	InitiatorID     string    `json:"initiatorId"`
	Direction       Direction `json:"-"`
	Reason          EndReason `json:"reason"`
	Connected       bool      `json:"connected"`
	DurationSeconds int       `json:"durationSeconds"`
	PeerNotified    bool      `json:"peerNotified"`
}

type callContext struct {
	epoch     uint64
	session   CallSession
	direction Direction
	peerID    string

	transport Transport

	// 振铃期间保存的远端 offer，接听时才应用
	remoteOffer *webrtc.SessionDescription
	// 远端描述应用前收到的候选
	pendingCandidates []webrtc.ICECandidateInit

	offerSent  bool
	answerSent bool

	remoteAudio  *transport.RemoteStream
	remoteScreen *transport.RemoteStream

	networkDegraded bool

	timeoutTimer *clock.Timer
	resetTimer   *clock.Timer
}

func (cc *callContext) status() Status {
	return cc.session.Status
}

// setStatus moves the session along the transition table
func (cc *callContext) setStatus(to Status) bool {
	if !CanTransition(cc.session.Status, to) {
		return false
	}
	cc.session.Status = to
	return true
}

func (cc *callContext) stopTimeout() {
	if cc.timeoutTimer != nil {
		cc.timeoutTimer.Stop()
		cc.timeoutTimer = nil
	}
}
