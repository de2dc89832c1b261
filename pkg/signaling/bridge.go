/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-16
 *
 * Bridge - 宿主桥接信令
 * 信令由宿主（Dart/原生层）实际收发：出站消息编码后交给回调，入站消息由宿主调用 Deliver
 */
package signaling

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBridgeClosed indicates the bridge has been closed
var ErrBridgeClosed = errors.New("signaling bridge closed")

// OutboundFunc receives an encoded envelope to relay
type OutboundFunc func(msg Message, envelope []byte) error

// Bridge implements Signaler on top of a host-provided relay
type Bridge struct {
	out       *fanout
	send      OutboundFunc
	connected atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBridge creates a connected bridge
func NewBridge(send OutboundFunc) *Bridge {
	b := &Bridge{out: newFanout(), send: send}
	b.connected.Store(true)
	return b
}

// Send implements Signaler
func (b *Bridge) Send(msg Message) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	if !b.connected.Load() {
		return ErrNotConnected
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return b.send(msg, data)
}

// Subscribe implements Signaler
func (b *Bridge) Subscribe() (<-chan Message, func()) {
	return b.out.subscribe()
}

// Connected implements Signaler
func (b *Bridge) Connected() bool {
	return b.connected.Load() && !b.closed.Load()
}

// SetConnected 宿主报告信令链路状态
func (b *Bridge) SetConnected(v bool) {
	b.connected.Store(v)
}

// Deliver decodes an inbound envelope and hands it to subscribers
func (b *Bridge) Deliver(raw []byte) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	msg, err := Decode(raw)
	if err != nil {
		return err
	}
	b.out.publish(msg)
	return nil
}

// Close stops delivery and closes all subscriptions
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.out.closeAll()
	})
	return nil
}
