/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-12
 *
 * Signaler - 信令通道抽象
 * call 包只依赖这个接口；具体实现有 WebSocket、FFI 宿主桥接以及内存 Hub
 */
package signaling

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// ErrNotConnected indicates the signaling channel is down
var ErrNotConnected = errors.New("signaling channel not connected")

// Signaler is the only surface the call package needs from the transport
// that relays events between the two members of a chat-session room.
type Signaler interface {
	// Send delivers msg to every member of its chat-session room.
	Send(msg Message) error
	// Subscribe returns inbound messages until cancel is called.
	Subscribe() (ch <-chan Message, cancel func())
	// Connected reports whether Send can currently succeed.
	Connected() bool
}

// fanout 订阅者管理，供各个 Signaler 实现复用
type fanout struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Message
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int]chan Message)}
}

func (f *fanout) subscribe() (<-chan Message, func()) {
	ch := make(chan Message, 256)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

// publish 投递给所有订阅者；订阅者的缓冲满时丢弃，避免阻塞读循环
func (f *fanout) publish(msg Message) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dropped := 0
	for _, ch := range f.subs {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}

// Hub 内存信令中继：按 chatSessionId 分房间，广播给房间内所有成员（包括发送者）
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*HubPeer]struct{}
}

// NewHub creates an empty relay
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*HubPeer]struct{})}
}

// Join adds userID to the room and returns its Signaler
func (h *Hub) Join(roomID, userID string) *HubPeer {
	p := &HubPeer{hub: h, roomID: roomID, userID: userID, out: newFanout()}
	p.connected.Store(true)

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*HubPeer]struct{})
	}
	h.rooms[roomID][p] = struct{}{}
	h.mu.Unlock()
	return p
}

func (h *Hub) leave(p *HubPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[p.roomID]; ok {
		delete(members, p)
		if len(members) == 0 {
			delete(h.rooms, p.roomID)
		}
	}
}

// broadcast returns how many deliveries were dropped
func (h *Hub) broadcast(roomID string, msg Message) int {
	h.mu.RLock()
	members := make([]*HubPeer, 0, len(h.rooms[roomID]))
	for p := range h.rooms[roomID] {
		members = append(members, p)
	}
	h.mu.RUnlock()

	total := 0
	for _, p := range members {
		if !p.connected.Load() {
			continue
		}
		if dropped := p.out.publish(msg); dropped > 0 {
			utils.Warn("Hub: %d subscriber(s) of %s in %s too slow, dropped %s", dropped, p.userID, roomID, msg.Type())
			total += dropped
		}
	}
	return total
}

// HubPeer is one room member's view of a Hub
type HubPeer struct {
	hub       *Hub
	roomID    string
	userID    string
	out       *fanout
	connected atomic.Bool

	// Sent 记录本端发出的所有消息，测试断言用
	sentMu sync.Mutex
	sent   []Message
}

// Send implements Signaler
func (p *HubPeer) Send(msg Message) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}
	p.sentMu.Lock()
	p.sent = append(p.sent, msg)
	p.sentMu.Unlock()

	p.hub.broadcast(msg.Head().ChatSessionID, msg)
	return nil
}

// Subscribe implements Signaler
func (p *HubPeer) Subscribe() (<-chan Message, func()) {
	return p.out.subscribe()
}

// Connected implements Signaler
func (p *HubPeer) Connected() bool {
	return p.connected.Load()
}

// SetConnected simulates the relay link going up or down
func (p *HubPeer) SetConnected(v bool) {
	p.connected.Store(v)
}

// Sent returns a copy of every message this peer sent
func (p *HubPeer) Sent() []Message {
	p.sentMu.Lock()
	defer p.sentMu.Unlock()
	out := make([]Message, len(p.sent))
	copy(out, p.sent)
	return out
}

// Leave removes the peer from its room and closes its subscriptions
func (p *HubPeer) Leave() {
	p.connected.Store(false)
	p.hub.leave(p)
	p.out.closeAll()
}
