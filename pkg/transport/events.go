/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-14
 *
 * 传输层事件
 * pion 的异步回调统一转换为 Event，由状态机在自己的循环中处理
 */
package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// EventKind 事件类型
type EventKind int

const (
	// EventRemoteMedia 远端媒体出现（或空闲后恢复）
	EventRemoteMedia EventKind = iota
	// EventRemoteMediaIdle 远端媒体长时间无数据（屏幕共享停止）
	EventRemoteMediaIdle
	// EventICECandidate 本地发现新的候选地址
	EventICECandidate
	// EventConnectionState 连接状态变化
	EventConnectionState
	// EventNegotiationNeeded 需要重新协商
	EventNegotiationNeeded
)

func (k EventKind) String() string {
	switch k {
	case EventRemoteMedia:
		return "remote-media"
	case EventRemoteMediaIdle:
		return "remote-media-idle"
	case EventICECandidate:
		return "ice-candidate"
	case EventConnectionState:
		return "connection-state"
	case EventNegotiationNeeded:
		return "negotiation-needed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one transport callback. Epoch is the call-context epoch the
// Peer was created under; stale events carry an old epoch.
type Event struct {
	Kind  EventKind
	Epoch uint64

	// EventRemoteMedia / EventRemoteMediaIdle
	Media RemoteMedia
	// EventICECandidate
	Candidate webrtc.ICECandidateInit
	// EventConnectionState
	State webrtc.PeerConnectionState
}

// Handler receives transport events. It must not block.
type Handler func(Event)
