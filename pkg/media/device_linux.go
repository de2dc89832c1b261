//go:build linux

/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-13
 *
 * DeviceSource - 基于 pion/mediadevices 的真实采集（malgo 麦克风 + X11 屏幕）
 */
package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// DeviceSource captures from local hardware
type DeviceSource struct {
	selector *mediadevices.CodecSelector
}

// NewDeviceSource builds the Opus/VP8 encoders used for capture
func NewDeviceSource() (*DeviceSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// OpenMicrophone implements Source.
//
// The malgo capture path has no echo cancellation, noise suppression or
// gain control: c is recorded on the Stream (see Stream.Constraints) but is
// NOT applied to the captured audio. Hosts that need AEC/NS/AGC must
// process the samples themselves or capture through a platform that
// provides it.
func (s *DeviceSource) OpenMicrophone(c AudioConstraints) (*Stream, error) {
	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: s.selector,
	})
	if err != nil {
		return nil, classifyCaptureError(err)
	}

	stream := NewStream(StreamKindMicrophone)
	stream.constraints = c
	for _, t := range ms.GetAudioTracks() {
		if err := s.wrap(stream, t, webrtc.RTPCodecTypeAudio, OpusCapability); err != nil {
			closeTracks(ms)
			stream.Stop()
			return nil, err
		}
	}
	if len(stream.Tracks()) == 0 {
		return nil, ErrNoCaptureDevice
	}

	utils.Info("Microphone opened: stream=%s aec=%v ns=%v agc=%v",
		stream.ID(), c.EchoCancellation, c.NoiseSuppression, c.AutoGainControl)
	return stream, nil
}

// OpenScreen implements Source
func (s *DeviceSource) OpenScreen() (*Stream, error) {
	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatI420,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 1920}
			c.Height = prop.IntRanged{Max: 1080}
		},
		Codec: s.selector,
	})
	if err != nil {
		return nil, classifyCaptureError(err)
	}

	stream := NewStream(StreamKindScreen)
	video := ms.GetVideoTracks()
	if len(video) == 0 {
		return nil, ErrNoCaptureDevice
	}
	// 只取第一路
	if err := s.wrap(stream, video[0], webrtc.RTPCodecTypeVideo, VP8Capability); err != nil {
		closeTracks(ms)
		return nil, err
	}
	for _, extra := range video[1:] {
		extra.Close()
	}

	utils.Info("Screen capture opened: stream=%s", stream.ID())
	return stream, nil
}

func (s *DeviceSource) wrap(stream *Stream, t mediadevices.Track, kind webrtc.RTPCodecType, codec webrtc.RTPCodecCapability) error {
	r, err := t.NewEncodedReader(codec.MimeType)
	if err != nil {
		return fmt.Errorf("open %s encoder: %w", kind, err)
	}
	lt, err := NewLocalTrack(kind, codec, stream.ID(), &deviceReader{
		track:     t,
		r:         r,
		clockRate: codec.ClockRate,
	})
	if err != nil {
		r.Close()
		return err
	}
	stream.AddTrack(lt)
	return nil
}

// deviceReader adapts a mediadevices encoded reader to SampleReader
type deviceReader struct {
	track     mediadevices.Track
	r         mediadevices.EncodedReadCloser
	clockRate uint32
}

func (d *deviceReader) ReadSample() (pionmedia.Sample, error) {
	buf, release, err := d.r.Read()
	if err != nil {
		return pionmedia.Sample{}, err
	}
	defer release()

	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)

	var dur time.Duration
	if d.clockRate > 0 {
		dur = time.Duration(buf.Samples) * time.Second / time.Duration(d.clockRate)
	}
	return pionmedia.Sample{Data: data, Duration: dur}, nil
}

func (d *deviceReader) Close() error {
	err := d.r.Close()
	d.track.Close()
	return err
}

func closeTracks(ms mediadevices.MediaStream) {
	for _, t := range ms.GetTracks() {
		t.Close()
	}
}

func classifyCaptureError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no device"):
		return fmt.Errorf("%w: %v", ErrNoCaptureDevice, err)
	default:
		return err
	}
}
