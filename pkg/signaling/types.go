/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * 通话信令消息定义
 * 四种消息：offer / answer / ice-candidate / callEnded
 * 每条消息都带 chatSessionId 与 from（发送方用户 ID）
 */
package signaling

import (
	"github.com/pion/webrtc/v4"
)

// MessageType represents the wire event name of a signaling message
type MessageType string

const (
	// MessageTypeOffer is an SDP offer
	MessageTypeOffer MessageType = "offer"
	// MessageTypeAnswer is an SDP answer
	MessageTypeAnswer MessageType = "answer"
	// MessageTypeICECandidate is a trickled ICE candidate
	MessageTypeICECandidate MessageType = "ice-candidate"
	// MessageTypeCallEnded tells the room the call is over
	MessageTypeCallEnded MessageType = "callEnded"
)

// Header 所有消息公共字段
type Header struct {
	ChatSessionID string `json:"chatSessionId"`
	From          string `json:"from"`
}

// Message is one of *Offer, *Answer, *ICECandidate or *CallEnded.
type Message interface {
	Type() MessageType
	Head() Header
}

// Offer carries the caller's session description
type Offer struct {
	Header
	Offer webrtc.SessionDescription `json:"offer"`
}

// Answer carries the callee's session description
type Answer struct {
	Header
	Answer webrtc.SessionDescription `json:"answer"`
}

// ICECandidate carries one discovered network path
type ICECandidate struct {
	Header
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// CallEnded 挂断通知
// Duration 仅在通话已接通时携带（单位：秒）
type CallEnded struct {
	Header
	Duration    *int   `json:"duration,omitempty"`
	Initiator   string `json:"initiator"`
	CurrentUser string `json:"currentUser"`
}

func (m *Offer) Type() MessageType        { return MessageTypeOffer }
func (m *Answer) Type() MessageType       { return MessageTypeAnswer }
func (m *ICECandidate) Type() MessageType { return MessageTypeICECandidate }
func (m *CallEnded) Type() MessageType    { return MessageTypeCallEnded }

func (m *Offer) Head() Header        { return m.Header }
func (m *Answer) Head() Header       { return m.Header }
func (m *ICECandidate) Head() Header { return m.Header }
func (m *CallEnded) Head() Header    { return m.Header }

// IsEcho reports whether msg was sent by localUserID. The relay broadcasts
// to every room member, the sender included.
func IsEcho(msg Message, localUserID string) bool {
	return msg.Head().From == localUserID
}
