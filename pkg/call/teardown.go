/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * 唯一的挂断路径
 * 顺序：停止计时 → 停止并禁用本地轨道 → 关闭传输 → 通知对端 → 延迟复位
 */
package call

import (
	"github.com/maiguangyang/call_core/pkg/signaling"
	"github.com/maiguangyang/call_core/pkg/utils"
)

// teardown ends the current call. A second call while Ending is a no-op.
// remoteInitiated suppresses the callEnded notification.
func (c *Controller) teardown(reason EndReason, remoteInitiated bool) {
	cc := c.cc
	if cc == nil {
		return
	}
	prev := cc.status()
	if !cc.setStatus(StatusEnding) {
		return
	}

	wasConnected := prev == StatusConnected
	duration := c.timer.Stop()
	cc.stopTimeout()
	if wasConnected {
		cc.session.DurationSeconds = duration
	}

	c.media.ReleaseAll()

	if cc.transport != nil {
		if err := cc.transport.Close(); err != nil {
			utils.Warn("[Call %s] Closing transport: %v", c.room, err)
		}
	}
	cc.remoteAudio, cc.remoteScreen = nil, nil
	cc.remoteOffer = nil
	cc.pendingCandidates = nil

	// 已发出 offer/answer 或正在振铃时必须通知对端，否则对方会一直振铃
	notified := false
	if !remoteInitiated && (cc.offerSent || cc.answerSent || prev == StatusRinging) {
		var d *int
		if wasConnected {
			d = &duration
		}
		notified = c.sendEnded(cc, d)
	}

	c.opts.Metrics.ended(reason, duration, wasConnected)
	c.emitEnded(Summary{
		ChatSessionID:   cc.session.ChatSessionID,
		InitiatorID:     cc.session.InitiatorID,
		Direction:       cc.direction,
		Reason:          reason,
		Connected:       wasConnected,
		DurationSeconds: cc.session.DurationSeconds,
		PeerNotified:    notified,
	})

	epoch := cc.epoch
	cc.resetTimer = c.clock.AfterFunc(c.opts.ResetDelay, func() {
		c.post(resetEvent{epoch: epoch})
	})
	utils.Info("[Call %s] Call ended: reason=%s prev=%s duration=%ds", c.room, reason, prev, cc.session.DurationSeconds)
}

func (c *Controller) sendEnded(cc *callContext, duration *int) bool {
	msg := &signaling.CallEnded{
		Header:      c.header(),
		Duration:    duration,
		Initiator:   cc.session.InitiatorID,
		CurrentUser: c.self,
	}
	if err := c.send(msg); err != nil {
		utils.Warn("[Call %s] Sending callEnded failed: %v", c.room, err)
		return false
	}
	return true
}
