/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-16
 *
 * Example: Softphone
 *
 * 读取 INI 配置，通过 WebSocket 中继信令，使用本机麦克风/屏幕采集。
 * 标准输入命令：call accept reject end share unshare mute min state stats quit
 *
 * 构建命令: go build -o softphone ./example/softphone
 * 运行: ./softphone -config call.ini -metrics :9100
 */
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/config"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/signaling"
	"github.com/maiguangyang/call_core/pkg/transport"
	"github.com/maiguangyang/call_core/pkg/utils"
)

func main() {
	configPath := flag.String("config", "call.ini", "INI config file")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	synthetic := flag.Bool("synthetic", false, "use synthetic media instead of capture devices")
	flag.Parse()

	if err := run(*configPath, *metricsAddr, *synthetic); err != nil {
		fmt.Fprintf(os.Stderr, "softphone: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string, synthetic bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.ChatSessionID == "" || cfg.LocalUserID == "" || cfg.SignalingURL == "" {
		return errors.New("[session] chat_session_id, user_id and [signaling] url are required")
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}
	defer utils.GetLogger().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	ws, err := signaling.DialWS(dialCtx, cfg.WSConfig())
	cancel()
	if err != nil {
		return err
	}
	defer ws.Close()

	api, err := transport.NewAPI(cfg.TransportConfig())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	opts := cfg.CallOptions()
	opts.Signaler = ws
	opts.NewTransport = call.PeerFactory(api, webrtc.Configuration{ICEServers: cfg.ICEServers}, cfg.ScreenIdleTimeout)
	opts.MediaSource = mediaSource(synthetic)
	opts.Metrics = call.NewMetrics(reg)

	ctrl, err := call.NewController(opts)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ctrl.SetOnStateChange(func(s call.State) {
		fmt.Printf("[state] %s\n", s.ToJSON())
	})
	ctrl.SetOnError(func(e *call.CallError) {
		fmt.Printf("[error] %s: %s\n", e.Code, e.Message)
	})
	ctrl.SetOnCallEnded(func(s call.Summary) {
		fmt.Printf("[ended] %s\n", s.ToJSON())
	})

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				utils.Error("Metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	fmt.Printf("Softphone ready: session=%s user=%s\n", cfg.ChatSessionID, cfg.LocalUserID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "quit" {
				return nil
			}
			if err := command(ctx, ctrl, line); err != nil {
				fmt.Printf("[%s] %v\n", line, err)
			}
		}
	}
}

func mediaSource(synthetic bool) media.Source {
	if synthetic {
		return media.NewSyntheticSource()
	}
	src, err := media.NewDeviceSource()
	if err != nil {
		utils.Warn("Device capture unavailable, using synthetic media: %v", err)
		return media.NewSyntheticSource()
	}
	return src
}

func command(ctx context.Context, c *call.Controller, cmd string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cmd {
	case "":
		return nil
	case "call":
		return c.StartCall(ctx)
	case "accept":
		return c.AcceptCall(ctx)
	case "reject":
		return c.RejectCall(ctx)
	case "end":
		return c.EndCall(ctx)
	case "share":
		return c.StartScreenShare(ctx)
	case "unshare":
		return c.StopScreenShare(ctx)
	case "mute":
		return c.ToggleMute(ctx)
	case "min":
		return c.ToggleCallMinimize(ctx)
	case "state":
		fmt.Println(c.State().ToJSON())
		return nil
	case "stats":
		snap, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Println(snap.ToJSON())
		return nil
	default:
		return fmt.Errorf("unknown command")
	}
}
