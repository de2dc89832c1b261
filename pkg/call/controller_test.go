/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * Controller Tests
 * 两个 Controller 通过内存 Hub 互通，传输层为替身，时间为模拟时钟
 */
package call

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/signaling"
	"github.com/maiguangyang/call_core/pkg/transport"
)

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewControllerValidatesOptions(t *testing.T) {
	_, err := NewController(DefaultOptions())
	if !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Expected ErrInvalidOptions, got %v", err)
	}
}

func TestCallConnectsAndCountsDuration(t *testing.T) {
	clk, alice, bob := newRig(t)
	ctx := testCtx(t)

	if err := alice.c.StartCall(ctx); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	s := alice.c.State()
	if s.CallStatus != StatusCalling || !s.IsCallOutgoing || !s.IsCallActive || s.LocalStream == nil {
		t.Errorf("Unexpected caller state: %+v", s)
	}

	s = bob.waitStatus(StatusRinging)
	if !s.IsCallIncoming || s.IsCallOutgoing {
		t.Errorf("Callee should be incoming: %+v", s)
	}
	if s.LocalStream != nil || bob.source.Opened() != 0 {
		t.Error("No media should be acquired while ringing")
	}
	if s.Session.InitiatorID != "alice" {
		t.Errorf("Expected initiator alice, got %s", s.Session.InitiatorID)
	}

	if err := bob.c.AcceptCall(ctx); err != nil {
		t.Fatalf("AcceptCall failed: %v", err)
	}
	if bob.c.State().CallStatus != StatusConnecting {
		t.Errorf("Expected bob connecting, got %s", bob.c.State().CallStatus)
	}
	if c := bob.source.LastConstraints(); c != media.DefaultAudioConstraints() {
		t.Errorf("Microphone should request all processing, got %+v", c)
	}
	alice.waitStatus(StatusConnecting)

	alice.factory.last().emitState(webrtc.PeerConnectionStateConnected)
	bob.factory.last().emitState(webrtc.PeerConnectionStateConnected)
	for _, p := range []*party{alice, bob} {
		s := p.waitStatus(StatusConnected)
		if s.IsCallIncoming || s.IsCallOutgoing {
			t.Errorf("%s: direction flags should clear on connect: %+v", p.user, s)
		}
		if s.CallDuration != 0 || s.Session.ConnectedAt == nil {
			t.Errorf("%s: expected duration 0 and connectedAt set, got %+v", p.user, s)
		}
	}

	for want := 1; want <= 3; want++ {
		clk.Add(time.Second)
		for _, p := range []*party{alice, bob} {
			p.waitState("duration tick", func(s State) bool { return s.CallDuration == want })
		}
	}

	if got := testutil.ToFloat64(alice.metrics.CallsConnected); got != 1 {
		t.Errorf("Expected 1 connected call, got %v", got)
	}
}

func TestStartCallWhileActiveIsNoop(t *testing.T) {
	_, alice, bob := newRig(t)
	ctx := testCtx(t)

	if err := alice.c.StartCall(ctx); err != nil {
		t.Fatal(err)
	}
	if err := alice.c.StartCall(ctx); !errors.Is(err, ErrCallInProgress) {
		t.Errorf("Expected ErrCallInProgress, got %v", err)
	}
	if n := alice.factory.count(); n != 1 {
		t.Errorf("Expected exactly one transport, got %d", n)
	}

	// 振铃中的被叫也不能再发起
	bob.waitStatus(StatusRinging)
	if err := bob.c.StartCall(ctx); !errors.Is(err, ErrCallInProgress) {
		t.Errorf("Expected ErrCallInProgress for ringing callee, got %v", err)
	}
	if n := bob.factory.count(); n != 1 {
		t.Errorf("Expected exactly one transport for bob, got %d", n)
	}
}

func TestStartCallSignalingUnavailable(t *testing.T) {
	_, alice, _ := newRig(t)
	alice.peer.SetConnected(false)

	err := alice.c.StartCall(testCtx(t))
	if !HasCode(err, CodeSignalingUnavailable) || !errors.Is(err, ErrSignalingUnavailable) {
		t.Fatalf("Expected SIGNALING_UNAVAILABLE, got %v", err)
	}
	if alice.factory.count() != 0 || alice.source.Opened() != 0 {
		t.Error("Nothing should be acquired when signaling is down")
	}
	s := alice.c.State()
	if s.CallStatus != StatusIdle || s.LastError == nil || s.LastError.Code != CodeSignalingUnavailable {
		t.Errorf("Unexpected state: %+v", s)
	}
}

func TestStartCallTransportFailure(t *testing.T) {
	_, alice, _ := newRig(t)
	alice.factory.err = errors.New("no api")

	err := alice.c.StartCall(testCtx(t))
	if !HasCode(err, CodeTransportFailed) {
		t.Fatalf("Expected TRANSPORT_FAILED, got %v", err)
	}
	if s := alice.c.State(); s.CallStatus != StatusIdle || s.HasTransport {
		t.Errorf("Call should not start: %+v", s)
	}
	if alice.source.Opened() != 0 {
		t.Error("Microphone should not be opened after transport failure")
	}
}

func TestUnansweredCallTimesOut(t *testing.T) {
	clk, alice, bob := newRig(t)

	if err := alice.c.StartCall(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	bob.waitStatus(StatusRinging)

	clk.Add(59 * time.Second)
	alice.settle()
	if s := alice.c.State(); s.CallStatus != StatusCalling {
		t.Fatalf("Call ended early: %s", s.CallStatus)
	}

	clk.Add(time.Second)
	alice.waitStatus(StatusEnding)
	bob.waitStatus(StatusEnding)
	clk.Add(200 * time.Millisecond)
	alice.waitStatus(StatusIdle)
	bob.waitStatus(StatusIdle)

	var ended []signaling.Message
	ended = append(ended, alice.sent(signaling.MessageTypeCallEnded)...)
	ended = append(ended, bob.sent(signaling.MessageTypeCallEnded)...)
	if len(ended) == 0 {
		t.Fatal("Expected a callEnded to be emitted")
	}
	for _, m := range ended {
		if d := m.(*signaling.CallEnded).Duration; d != nil {
			t.Errorf("Unanswered call should not carry a duration, got %d", *d)
		}
	}

	if got := testutil.ToFloat64(alice.metrics.CallsEnded.WithLabelValues(string(EndReasonTimeout))) +
		testutil.ToFloat64(alice.metrics.CallsEnded.WithLabelValues(string(EndReasonRemote))); got != 1 {
		t.Errorf("Expected alice to end exactly once, got %v", got)
	}
}

func TestTimeoutReadsLiveStatus(t *testing.T) {
	clk, alice, bob := newRig(t)
	connect(t, alice, bob)

	// 超时点已过，但通话已接通
	clk.Add(61 * time.Second)
	alice.settle()
	bob.settle()
	if alice.c.State().CallStatus != StatusConnected || bob.c.State().CallStatus != StatusConnected {
		t.Error("Timeout must not end a connected call")
	}
}

func TestEndCallReportsAuthoritativeDuration(t *testing.T) {
	clk, alice, bob := newRig(t)
	connect(t, alice, bob)

	// 一次推进 125 秒，中间的 tick 基本都会丢失
	clk.Add(125 * time.Second)
	if err := alice.c.EndCall(testCtx(t)); err != nil {
		t.Fatal(err)
	}

	sum := alice.waitEnded()
	if sum.DurationSeconds < 124 || sum.DurationSeconds > 126 {
		t.Errorf("Expected ~125s, got %d", sum.DurationSeconds)
	}
	if sum.Reason != EndReasonLocal || !sum.Connected || !sum.PeerNotified {
		t.Errorf("Unexpected summary: %+v", sum)
	}

	msgs := alice.sent(signaling.MessageTypeCallEnded)
	if len(msgs) != 1 {
		t.Fatalf("Expected one callEnded, got %d", len(msgs))
	}
	ended := msgs[0].(*signaling.CallEnded)
	if ended.Duration == nil || *ended.Duration != sum.DurationSeconds {
		t.Errorf("callEnded duration mismatch: %v", ended.Duration)
	}
	if ended.Initiator != "alice" || ended.CurrentUser != "alice" {
		t.Errorf("Unexpected participants: %+v", ended)
	}

	bobSum := bob.waitEnded()
	if bobSum.Reason != EndReasonRemote || bobSum.PeerNotified {
		t.Errorf("Remote hangup should not notify back: %+v", bobSum)
	}
	if len(bob.sent(signaling.MessageTypeCallEnded)) != 0 {
		t.Error("Bob should not send callEnded for a remote hangup")
	}
}

func TestEndCallReleasesEverything(t *testing.T) {
	clk, alice, bob := newRig(t)
	connect(t, alice, bob)
	ctx := testCtx(t)

	tr := alice.factory.last()
	tr.emit(transport.Event{
		Kind:  transport.EventRemoteMedia,
		Media: transport.Classify(webrtc.RTPCodecTypeAudio, transport.NewRemoteStream("bob-mic", "a", webrtc.MimeTypeOpus)),
	})
	alice.waitState("remote audio", func(s State) bool { return s.RemoteStream != nil })

	if err := alice.c.StartScreenShare(ctx); err != nil {
		t.Fatalf("StartScreenShare failed: %v", err)
	}
	s := alice.c.State()
	if s.LocalStream == nil || s.ScreenShareStream == nil {
		t.Fatalf("Expected local and screen streams: %+v", s)
	}
	tracks := append(s.LocalStream.Tracks(), s.ScreenShareStream.Tracks()...)

	if err := alice.c.EndCall(ctx); err != nil {
		t.Fatal(err)
	}
	s = alice.c.State()
	if s.CallStatus != StatusEnding {
		t.Errorf("Expected ending, got %s", s.CallStatus)
	}
	if s.LocalStream != nil || s.RemoteStream != nil || s.ScreenShareStream != nil {
		t.Errorf("Streams should be cleared: %+v", s)
	}
	for _, tr := range tracks {
		if !tr.Stopped() || tr.Enabled() {
			t.Errorf("Track %s not stopped/disabled", tr.ID())
		}
	}
	if !tr.isClosed() {
		t.Error("Transport should be closed")
	}

	clk.Add(200 * time.Millisecond)
	alice.waitStatus(StatusIdle)
}

func TestHangupRaceResetsOnce(t *testing.T) {
	clk, alice, bob := newRig(t)
	connect(t, alice, bob)
	ctx := testCtx(t)

	if err := alice.c.EndCall(ctx); err != nil {
		t.Fatal(err)
	}
	// 窗口内对端的挂断到达
	if err := bob.peer.Send(&signaling.CallEnded{
		Header:      signaling.Header{ChatSessionID: testRoom, From: "bob"},
		Initiator:   "alice",
		CurrentUser: "bob",
	}); err != nil {
		t.Fatal(err)
	}
	if err := alice.c.EndCall(ctx); err != nil {
		t.Errorf("Second EndCall should be a silent no-op, got %v", err)
	}
	alice.settle()

	alice.waitEnded()
	select {
	case s := <-alice.ended:
		t.Errorf("Duplicate ended side effect: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
	if n := len(alice.sent(signaling.MessageTypeCallEnded)); n != 1 {
		t.Errorf("Expected exactly one callEnded from alice, got %d", n)
	}

	bob.waitStatus(StatusEnding)
	clk.Add(200 * time.Millisecond)
	alice.waitStatus(StatusIdle)
	bob.waitStatus(StatusIdle)

	if got := testutil.ToFloat64(alice.metrics.CallsEnded.WithLabelValues(string(EndReasonLocal))); got != 1 {
		t.Errorf("Expected one local end, got %v", got)
	}
	if got := testutil.ToFloat64(alice.metrics.CallsEnded.WithLabelValues(string(EndReasonRemote))); got != 0 {
		t.Errorf("Remote end must not be counted after local end, got %v", got)
	}
}

func TestEchoNeverMutatesState(t *testing.T) {
	clk, alice, bob := newRig(t)

	header := signaling.Header{ChatSessionID: testRoom, From: "alice"}
	echoes := []signaling.Message{
		&signaling.Offer{Header: header, Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}},
		&signaling.Answer{Header: header, Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}},
		&signaling.ICECandidate{Header: header, Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 1.2.3.4 5 typ host"}},
		&signaling.CallEnded{Header: header, Initiator: "alice", CurrentUser: "alice"},
	}

	check := func(phase string) {
		before := alice.c.State()
		created := alice.factory.count()
		for _, m := range echoes {
			alice.inject(m)
		}
		after := alice.c.State()
		if after != before {
			t.Errorf("%s: echo mutated state\nbefore=%+v\nafter=%+v", phase, before, after)
		}
		if alice.factory.count() != created {
			t.Errorf("%s: echo created a transport", phase)
		}
	}

	check("idle")

	if err := alice.c.StartCall(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	check("calling")

	bob.waitStatus(StatusRinging)
	if err := bob.c.AcceptCall(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	alice.waitStatus(StatusConnecting)
	tr := alice.factory.last()
	tr.emitState(webrtc.PeerConnectionStateConnected)
	alice.waitStatus(StatusConnected)
	check("connected")

	if err := alice.c.EndCall(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	check("ending")
	clk.Add(200 * time.Millisecond)
	alice.waitStatus(StatusIdle)
}

func TestSimultaneousCallsResolveToOne(t *testing.T) {
	clk := clock.NewMock()
	// 两个 Hub，让双方的 offer 都停在路上，再手动交叉投递
	alice := newParty(t, clk, signaling.NewHub(), "alice")
	bob := newParty(t, clk, signaling.NewHub(), "bob")
	ctx := testCtx(t)

	if err := alice.c.StartCall(ctx); err != nil {
		t.Fatal(err)
	}
	if err := bob.c.StartCall(ctx); err != nil {
		t.Fatal(err)
	}
	aliceOutgoing := alice.factory.last()
	aliceOffer := alice.sent(signaling.MessageTypeOffer)[0]
	bobOffer := bob.sent(signaling.MessageTypeOffer)[0]

	// bob 的 ID 更大，保留外呼
	bob.inject(aliceOffer)
	if s := bob.c.State(); s.CallStatus != StatusCalling || s.Direction != DirectionOutgoing {
		t.Fatalf("Larger ID must keep calling: %+v", s)
	}

	alice.inject(bobOffer)
	s := alice.c.State()
	if s.CallStatus != StatusConnecting || s.Direction != DirectionIncoming {
		t.Fatalf("Smaller ID must answer the peer's offer: %s/%s", s.CallStatus, s.Direction)
	}
	if s.Session.InitiatorID != "bob" {
		t.Errorf("Expected bob as initiator, got %s", s.Session.InitiatorID)
	}
	if !aliceOutgoing.isClosed() || alice.factory.count() != 2 {
		t.Error("Abandoned outgoing transport should be closed and replaced")
	}
	if alice.source.Opened() != 1 {
		t.Errorf("Microphone should be reused, opened %d times", alice.source.Opened())
	}
	answers := alice.sent(signaling.MessageTypeAnswer)
	if len(answers) != 1 {
		t.Fatalf("Expected one answer, got %d", len(answers))
	}

	bob.inject(answers[0])
	bob.waitStatus(StatusConnecting)

	for _, p := range []*party{alice, bob} {
		if n := len(p.sent(signaling.MessageTypeCallEnded)); n != 0 {
			t.Errorf("%s: glare must not send callEnded, got %d", p.user, n)
		}
		select {
		case sum := <-p.ended:
			t.Errorf("%s: glare must not report an ended call: %+v", p.user, sum)
		default:
		}
	}
	if got := testutil.ToFloat64(alice.metrics.CallsEnded.WithLabelValues(string(EndReasonGlare))); got != 1 {
		t.Errorf("Expected one glare end, got %v", got)
	}
}

func TestStaleTransportEventIgnored(t *testing.T) {
	clk, alice, bob := newRig(t)
	ctx := testCtx(t)

	if err := alice.c.StartCall(ctx); err != nil {
		t.Fatal(err)
	}
	first := alice.factory.last()
	bob.waitStatus(StatusRinging)
	if err := alice.c.EndCall(ctx); err != nil {
		t.Fatal(err)
	}
	// 对端的复位计时器在 Ending 发布前已挂上
	bob.waitStatus(StatusEnding)
	clk.Add(200 * time.Millisecond)
	alice.waitStatus(StatusIdle)
	bob.waitStatus(StatusIdle)

	if err := alice.c.StartCall(ctx); err != nil {
		t.Fatal(err)
	}
	second := alice.factory.last()
	if first == second {
		t.Fatal("Expected a new transport for the second call")
	}

	stale := testutil.ToFloat64(alice.metrics.StaleDropped)
	first.emitState(webrtc.PeerConnectionStateConnected)
	alice.settle()
	if s := alice.c.State(); s.CallStatus != StatusCalling {
		t.Errorf("Stale event changed the new call: %s", s.CallStatus)
	}
	if got := testutil.ToFloat64(alice.metrics.StaleDropped); got != stale+1 {
		t.Errorf("Expected stale counter %v, got %v", stale+1, got)
	}
}

func TestLateSignalAfterResetIgnored(t *testing.T) {
	clk, alice, bob := newRig(t)
	connect(t, alice, bob)
	ctx := testCtx(t)

	if err := alice.c.EndCall(ctx); err != nil {
		t.Fatal(err)
	}
	clk.Add(200 * time.Millisecond)
	alice.waitStatus(StatusIdle)

	// 旧通话的候选与应答迟到
	late := signaling.Header{ChatSessionID: testRoom, From: "bob"}
	_ = bob.peer.Send(&signaling.ICECandidate{Header: late, Candidate: webrtc.ICECandidateInit{Candidate: "candidate:late"}})
	_ = bob.peer.Send(&signaling.Answer{Header: late, Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "late"}})
	alice.settle()

	if s := alice.c.State(); s.CallStatus != StatusIdle || s.HasTransport {
		t.Errorf("Late messages must be dropped: %+v", s)
	}
}

func TestCandidatesBufferedUntilAccept(t *testing.T) {
	_, alice, bob := newRig(t)
	ctx := testCtx(t)

	if err := alice.c.StartCall(ctx); err != nil {
		t.Fatal(err)
	}
	bob.waitStatus(StatusRinging)

	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 1.2.3.4 5000 typ host"}
	alice.factory.last().emit(transport.Event{Kind: transport.EventICECandidate, Candidate: cand})
	alice.waitState("candidate sent", func(State) bool {
		return len(alice.sent(signaling.MessageTypeICECandidate)) == 1
	})
	bob.settle()

	bobTr := bob.factory.last()
	if bobTr.candidateCount() != 0 {
		t.Fatal("Candidate must wait for the remote description")
	}
	if err := bob.c.AcceptCall(ctx); err != nil {
		t.Fatal(err)
	}
	bob.waitState("candidate applied", func(State) bool { return bobTr.candidateCount() == 1 })
}

func TestAcceptMicrophoneDeniedNotifiesCaller(t *testing.T) {
	clk, alice, bob := newRig(t)
	bob.source.FailMicrophone = media.ErrPermissionDenied
	ctx := testCtx(t)

	if err := alice.c.StartCall(ctx); err != nil {
		t.Fatal(err)
	}
	bob.waitStatus(StatusRinging)

	err := bob.c.AcceptCall(ctx)
	if !HasCode(err, CodeMediaPermissionDenied) || !errors.Is(err, media.ErrPermissionDenied) {
		t.Fatalf("Expected MEDIA_PERMISSION_DENIED, got %v", err)
	}
	select {
	case e := <-bob.errs:
		if e.Code != CodeMediaPermissionDenied {
			t.Errorf("Unexpected error code %s", e.Code)
		}
	case <-time.After(time.Second):
		t.Error("Error not surfaced")
	}
	if s := bob.c.State(); s.LastError == nil {
		t.Error("LastError should be set")
	}
	if len(bob.sent(signaling.MessageTypeCallEnded)) != 1 {
		t.Error("Caller must be told when the callee aborts")
	}

	alice.waitStatus(StatusEnding)
	clk.Add(200 * time.Millisecond)
	alice.waitStatus(StatusIdle)
	bob.waitStatus(StatusIdle)
}

func TestStartCallMicrophoneDenied(t *testing.T) {
	clk, alice, bob := newRig(t)
	alice.source.FailMicrophone = media.ErrPermissionDenied

	err := alice.c.StartCall(testCtx(t))
	if !HasCode(err, CodeMediaPermissionDenied) {
		t.Fatalf("Expected MEDIA_PERMISSION_DENIED, got %v", err)
	}
	if !alice.factory.last().isClosed() {
		t.Error("Transport should be closed after abort")
	}
	if len(alice.sent(signaling.MessageTypeOffer)) != 0 {
		t.Error("No offer should be sent")
	}
	bob.settle()
	if bob.c.State().CallStatus != StatusIdle {
		t.Error("Callee should never ring")
	}
	clk.Add(200 * time.Millisecond)
	alice.waitStatus(StatusIdle)
}

func TestRejectCall(t *testing.T) {
	clk, alice, bob := newRig(t)
	ctx := testCtx(t)

	if err := bob.c.AcceptCall(ctx); !errors.Is(err, ErrNotRinging) {
		t.Errorf("Expected ErrNotRinging, got %v", err)
	}

	if err := alice.c.StartCall(ctx); err != nil {
		t.Fatal(err)
	}
	bob.waitStatus(StatusRinging)
	if err := bob.c.RejectCall(ctx); err != nil {
		t.Fatal(err)
	}

	sum := bob.waitEnded()
	if sum.Reason != EndReasonRejected || !sum.PeerNotified || sum.Connected {
		t.Errorf("Unexpected summary: %+v", sum)
	}
	aliceSum := alice.waitEnded()
	if aliceSum.Reason != EndReasonRemote {
		t.Errorf("Expected remote end for caller, got %s", aliceSum.Reason)
	}
	if bob.source.Opened() != 0 {
		t.Error("Rejecting must not touch the microphone")
	}

	alice.waitStatus(StatusEnding)
	clk.Add(200 * time.Millisecond)
	alice.waitStatus(StatusIdle)
	bob.waitStatus(StatusIdle)
}

func TestNetworkFailureDoesNotEndCall(t *testing.T) {
	_, alice, bob := newRig(t)
	connect(t, alice, bob)

	tr := alice.factory.last()
	tr.emitState(webrtc.PeerConnectionStateFailed)
	s := alice.waitState("degraded", func(s State) bool { return s.NetworkDegraded })
	if s.CallStatus != StatusConnected {
		t.Errorf("Failed network must not end the call: %s", s.CallStatus)
	}

	tr.emitState(webrtc.PeerConnectionStateConnected)
	alice.waitState("recovered", func(s State) bool { return !s.NetworkDegraded })
	if alice.c.State().CallStatus != StatusConnected {
		t.Error("Recovered call should stay connected")
	}
}

func TestRemoteMediaDemux(t *testing.T) {
	_, alice, bob := newRig(t)
	connect(t, alice, bob)

	audio := transport.NewRemoteStream("bob-mic", "a", webrtc.MimeTypeOpus)
	screen := transport.NewRemoteStream("bob-screen", "v", webrtc.MimeTypeVP8)
	tr := alice.factory.last()

	tr.emit(transport.Event{Kind: transport.EventRemoteMedia, Media: transport.Classify(webrtc.RTPCodecTypeVideo, screen)})
	s := alice.waitState("remote screen", func(s State) bool { return s.RemoteScreenShareStream != nil })
	if s.RemoteStream != nil {
		t.Error("Video must not be taken as the remote voice stream")
	}

	tr.emit(transport.Event{Kind: transport.EventRemoteMedia, Media: transport.Classify(webrtc.RTPCodecTypeAudio, audio)})
	s = alice.waitState("remote audio", func(s State) bool { return s.RemoteStream != nil })
	if s.RemoteStream != audio || s.RemoteScreenShareStream != screen {
		t.Errorf("Streams demultiplexed wrongly: %+v", s)
	}

	tr.emit(transport.Event{Kind: transport.EventRemoteMediaIdle, Media: transport.Classify(webrtc.RTPCodecTypeVideo, screen)})
	alice.waitState("remote screen cleared", func(s State) bool { return s.RemoteScreenShareStream == nil })
	if alice.c.State().RemoteStream != audio {
		t.Error("Remote audio should be untouched")
	}
}

func TestScreenShareRenegotiates(t *testing.T) {
	_, alice, bob := newRig(t)
	ctx := testCtx(t)

	if err := alice.c.StartScreenShare(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected before the call, got %v", err)
	}

	connect(t, alice, bob)
	if err := alice.c.StartScreenShare(ctx); err != nil {
		t.Fatalf("StartScreenShare failed: %v", err)
	}
	tr := alice.factory.last()
	if tr.track(webrtc.RTPCodecTypeVideo) == nil {
		t.Fatal("Screen track not attached")
	}

	// 新增 sender → 重新 offer → 对端原地应答
	alice.waitState("renegotiation answered", func(State) bool {
		return len(bob.sent(signaling.MessageTypeAnswer)) == 2
	})
	if n := len(alice.sent(signaling.MessageTypeOffer)); n != 2 {
		t.Errorf("Expected 2 offers from alice, got %d", n)
	}
	if bob.c.State().CallStatus != StatusConnected {
		t.Error("Renegotiation must not change the callee's status")
	}

	if err := alice.c.StopScreenShare(ctx); err != nil {
		t.Fatal(err)
	}
	if s := alice.c.State(); s.ScreenShareStream != nil {
		t.Error("Screen stream should be cleared")
	}
	if tr.track(webrtc.RTPCodecTypeVideo) != nil {
		t.Error("Screen sender should be paused")
	}

	// 第二次共享复用 sender，不再重协商
	if err := alice.c.StartScreenShare(ctx); err != nil {
		t.Fatal(err)
	}
	alice.settle()
	if n := len(alice.sent(signaling.MessageTypeOffer)); n != 2 {
		t.Errorf("Replacing a track must not renegotiate, got %d offers", n)
	}
}

func TestScreenCaptureEndedReleases(t *testing.T) {
	_, alice, bob := newRig(t)
	connect(t, alice, bob)

	if err := alice.c.StartScreenShare(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	alice.source.EndScreen()

	alice.waitState("screen released", func(s State) bool { return s.ScreenShareStream == nil })
	tr := alice.factory.last()
	deadline := time.Now().Add(2 * time.Second)
	for tr.track(webrtc.RTPCodecTypeVideo) != nil {
		if time.Now().After(deadline) {
			t.Fatal("Screen sender not paused after capture ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if alice.c.State().CallStatus != StatusConnected {
		t.Error("Capture end must not end the call")
	}
}

func TestScreenCaptureFailureEndsCall(t *testing.T) {
	_, alice, bob := newRig(t)
	connect(t, alice, bob)
	alice.source.FailScreen = media.ErrPermissionDenied

	err := alice.c.StartScreenShare(testCtx(t))
	if !HasCode(err, CodeScreenCaptureFailed) {
		t.Fatalf("Expected SCREEN_CAPTURE_FAILED, got %v", err)
	}
	if s := alice.c.State(); s.CallStatus != StatusEnding {
		t.Errorf("Expected call to end, got %s", s.CallStatus)
	}
	bob.waitEnded()
}

func TestToggleMute(t *testing.T) {
	_, alice, bob := newRig(t)
	connect(t, alice, bob)
	ctx := testCtx(t)

	offers := len(alice.sent(signaling.MessageTypeOffer))
	if err := alice.c.ToggleMute(ctx); err != nil {
		t.Fatal(err)
	}
	s := alice.c.State()
	if !s.IsMuted {
		t.Error("Expected muted")
	}
	track := s.LocalStream.Tracks()[0]
	if track.Enabled() || track.Stopped() {
		t.Error("Mute should only disable the track")
	}
	alice.settle()
	if len(alice.sent(signaling.MessageTypeOffer)) != offers {
		t.Error("Mute must not renegotiate")
	}

	if err := alice.c.ToggleMute(ctx); err != nil {
		t.Fatal(err)
	}
	if alice.c.State().IsMuted || !track.Enabled() {
		t.Error("Expected unmuted")
	}
}

func TestToggleMinimize(t *testing.T) {
	clk, alice, bob := newRig(t)
	connect(t, alice, bob)
	ctx := testCtx(t)

	if err := alice.c.ToggleCallMinimize(ctx); err != nil {
		t.Fatal(err)
	}
	if !alice.c.State().IsCallMinimized {
		t.Error("Expected minimized")
	}

	if err := alice.c.EndCall(ctx); err != nil {
		t.Fatal(err)
	}
	clk.Add(200 * time.Millisecond)
	s := alice.waitStatus(StatusIdle)
	if s.IsCallMinimized {
		t.Error("Minimized flag should reset with the session")
	}
}

func TestStats(t *testing.T) {
	_, alice, bob := newRig(t)
	ctx := testCtx(t)

	if _, err := alice.c.Stats(ctx); !errors.Is(err, ErrNoCall) {
		t.Errorf("Expected ErrNoCall, got %v", err)
	}
	connect(t, alice, bob)
	snap, err := alice.c.Stats(ctx)
	if err != nil || snap.AudioPacketsIn != 42 {
		t.Errorf("Unexpected stats: %+v err=%v", snap, err)
	}
}

func TestCloseReleasesSynchronously(t *testing.T) {
	_, alice, bob := newRig(t)
	connect(t, alice, bob)

	mic := alice.c.State().LocalStream
	tr := alice.factory.last()

	if err := alice.c.Close(); err != nil {
		t.Fatal(err)
	}
	if !tr.isClosed() {
		t.Error("Transport should be closed when Close returns")
	}
	for _, track := range mic.Tracks() {
		if !track.Stopped() {
			t.Error("Microphone should be stopped when Close returns")
		}
	}
	if len(alice.sent(signaling.MessageTypeCallEnded)) != 1 {
		t.Error("Peer should be told on shutdown")
	}
	if err := alice.c.StartCall(testCtx(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	bob.waitEnded()
}

func TestStateJSON(t *testing.T) {
	_, alice, bob := newRig(t)
	connect(t, alice, bob)

	js := alice.c.State().ToJSON()
	for _, want := range []string{`"callStatus":"connected"`, `"isCallActive":true`, `"chatSessionId":"chat-1"`, `"localStream":"`} {
		if !strings.Contains(js, want) {
			t.Errorf("State JSON missing %s: %s", want, js)
		}
	}
}
