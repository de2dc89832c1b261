/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * 通话状态
 * Idle → Calling → Connecting → Connected → Ending → Idle
 * Idle → Ringing → Connecting → Connected → Ending → Idle
 */
package call

import "fmt"

// Status 通话状态
type Status int

const (
	StatusIdle Status = iota
	// 呼出中，等待对方应答
	StatusCalling
	// 来电振铃，等待本端决定
	StatusRinging
	StatusConnecting
	StatusConnected
	// 挂断中，等待延迟复位
	StatusEnding
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusCalling:
		return "calling"
	case StatusRinging:
		return "ringing"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusEnding:
		return "ending"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[Status][]Status{
	StatusIdle:       {StatusCalling, StatusRinging},
	StatusCalling:    {StatusConnecting, StatusEnding},
	StatusRinging:    {StatusConnecting, StatusEnding},
	StatusConnecting: {StatusConnected, StatusEnding},
	StatusConnected:  {StatusEnding},
	StatusEnding:     {StatusIdle},
}

// CanTransition reports whether from → to is allowed
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Direction 呼叫方向
type Direction int

const (
	DirectionNone Direction = iota
	DirectionOutgoing
	DirectionIncoming
)

func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "outgoing"
	case DirectionIncoming:
		return "incoming"
	default:
		return "none"
	}
}
