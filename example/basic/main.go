/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Example: Basic Call Usage
 *
 * 同一进程内两个 Controller 通过内存 Hub 互拨，走真实 pion 传输与合成音频。
 * 注意：这是一个独立的演示程序，不作为 C-shared 库编译。
 *
 * 构建命令: go build -o call_example example/basic/main.go
 */
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/signaling"
	"github.com/maiguangyang/call_core/pkg/transport"
	"github.com/maiguangyang/call_core/pkg/utils"
)

const room = "example-chat"

func newController(hub *signaling.Hub, user string) (*call.Controller, error) {
	// 本机互通不需要 STUN
	tc := transport.DefaultConfig()
	tc.ICEServers = nil
	api, err := transport.NewAPI(tc)
	if err != nil {
		return nil, err
	}

	opts := call.DefaultOptions()
	opts.ChatSessionID = room
	opts.LocalUserID = user
	opts.Signaler = hub.Join(room, user)
	opts.NewTransport = call.PeerFactory(api, webrtc.Configuration{}, transport.DefaultScreenIdleTimeout)
	opts.MediaSource = media.NewSyntheticSource()

	c, err := call.NewController(opts)
	if err != nil {
		return nil, err
	}
	c.SetOnStateChange(func(s call.State) {
		fmt.Printf("   [%s] %-10s duration=%ds muted=%v\n", user, s.CallStatus, s.CallDuration, s.IsMuted)
	})
	c.SetOnCallEnded(func(s call.Summary) {
		fmt.Printf("   [%s] ended: %s\n", user, s.ToJSON())
	})
	return c, nil
}

func waitFor(c *call.Controller, status call.Status, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State().CallStatus == status {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for %s", status)
}

func run() error {
	utils.SetLevel(utils.LogLevelWarn)
	hub := signaling.NewHub()

	fmt.Println("1. Creating controllers...")
	alice, err := newController(hub, "alice")
	if err != nil {
		return err
	}
	defer alice.Close()
	bob, err := newController(hub, "bob")
	if err != nil {
		return err
	}
	defer bob.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("\n2. Alice calls Bob...")
	if err := alice.StartCall(ctx); err != nil {
		return err
	}
	if err := waitFor(bob, call.StatusRinging, 5*time.Second); err != nil {
		return err
	}

	fmt.Println("\n3. Bob accepts...")
	if err := bob.AcceptCall(ctx); err != nil {
		return err
	}
	if err := waitFor(alice, call.StatusConnected, 15*time.Second); err != nil {
		return err
	}

	fmt.Println("\n4. Talking for 3 seconds, Alice mutes halfway...")
	time.Sleep(1500 * time.Millisecond)
	if err := alice.ToggleMute(ctx); err != nil {
		return err
	}
	time.Sleep(1500 * time.Millisecond)

	if snap, err := bob.Stats(ctx); err == nil {
		fmt.Printf("   Bob inbound: %s\n", snap.ToJSON())
	}

	fmt.Println("\n5. Alice hangs up...")
	if err := alice.EndCall(ctx); err != nil {
		return err
	}
	if err := waitFor(bob, call.StatusIdle, 5*time.Second); err != nil {
		return err
	}

	fmt.Println("\n=== Example Complete ===")
	return nil
}

func main() {
	fmt.Println("=== Call Core Basic Example ===")
	fmt.Println()
	if err := run(); err != nil {
		fmt.Printf("   Error: %v\n", err)
		os.Exit(1)
	}
}
