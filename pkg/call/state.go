/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * 对外只读状态
 */
package call

import (
	"encoding/json"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/transport"
)

// State is a read-only snapshot for the presentation layer
type State struct {
	ChatSessionID string
	CallStatus    Status
	Direction     Direction

	IsCallActive    bool
	IsCallIncoming  bool
	IsCallOutgoing  bool
	IsCallMinimized bool
	IsMuted         bool
	NetworkDegraded bool

	// 显示用时长（秒）
	CallDuration int

	LocalStream             *media.Stream
	ScreenShareStream       *media.Stream
	RemoteStream            *transport.RemoteStream
	RemoteScreenShareStream *transport.RemoteStream

	// 是否持有传输句柄（Idle 时必为 false）
	HasTransport bool

	Session   CallSession
	LastError *CallError
}

type stateView struct {
	ChatSessionID           string      `json:"chatSessionId"`
	CallStatus              Status      `json:"callStatus"`
	IsCallActive            bool        `json:"isCallActive"`
	IsCallIncoming          bool        `json:"isCallIncoming"`
	IsCallOutgoing          bool        `json:"isCallOutgoing"`
	IsCallMinimized         bool        `json:"isCallMinimized"`
	IsMuted                 bool        `json:"isMuted"`
	NetworkDegraded         bool        `json:"networkDegraded"`
	CallDuration            int         `json:"callDuration"`
	LocalStream             string      `json:"localStream,omitempty"`
	ScreenShareStream       string      `json:"screenShareStream,omitempty"`
	RemoteStream            string      `json:"remoteStream,omitempty"`
	RemoteScreenShareStream string      `json:"remoteScreenShareStream,omitempty"`
	Session                 CallSession `json:"session"`
	LastError               *CallError  `json:"lastError,omitempty"`
}

// ToJSON 序列化为 JSON，流以 ID 表示
func (s State) ToJSON() string {
	v := stateView{
		ChatSessionID:   s.ChatSessionID,
		CallStatus:      s.CallStatus,
		IsCallActive:    s.IsCallActive,
		IsCallIncoming:  s.IsCallIncoming,
		IsCallOutgoing:  s.IsCallOutgoing,
		IsCallMinimized: s.IsCallMinimized,
		IsMuted:         s.IsMuted,
		NetworkDegraded: s.NetworkDegraded,
		CallDuration:    s.CallDuration,
		Session:         s.Session,
		LastError:       s.LastError,
	}
	if s.LocalStream != nil {
		v.LocalStream = s.LocalStream.ID()
	}
	if s.ScreenShareStream != nil {
		v.ScreenShareStream = s.ScreenShareStream.ID()
	}
	if s.RemoteStream != nil {
		v.RemoteStream = s.RemoteStream.ID()
	}
	if s.RemoteScreenShareStream != nil {
		v.RemoteScreenShareStream = s.RemoteScreenShareStream.ID()
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// ToJSON 序列化为 JSON
func (s Summary) ToJSON() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// snapshot builds the State from the loop-owned fields
func (c *Controller) snapshot() State {
	s := State{
		ChatSessionID:   c.opts.ChatSessionID,
		CallStatus:      StatusIdle,
		IsCallMinimized: c.minimized,
		IsMuted:         c.media.Muted(),
		LocalStream:     c.media.Microphone(),
		LastError:       c.lastError,
	}
	s.ScreenShareStream = c.media.Screen()

	cc := c.cc
	if cc == nil {
		return s
	}

	s.CallStatus = cc.status()
	s.Direction = cc.direction
	s.Session = cc.session
	s.HasTransport = cc.transport != nil
	s.NetworkDegraded = cc.networkDegraded
	s.RemoteStream = cc.remoteAudio
	s.RemoteScreenShareStream = cc.remoteScreen
	s.CallDuration = cc.session.DurationSeconds

	switch s.CallStatus {
	case StatusCalling, StatusRinging, StatusConnecting:
		s.IsCallActive = true
		s.IsCallOutgoing = cc.direction == DirectionOutgoing
		s.IsCallIncoming = cc.direction == DirectionIncoming
	case StatusConnected:
		s.IsCallActive = true
	}
	return s
}
