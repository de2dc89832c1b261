//go:build !linux

/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-13
 *
 * 非 Linux 平台无原生采集，由宿主（Flutter）负责设备
 */
package media

// DeviceSource is unavailable on this platform
type DeviceSource struct{}

// NewDeviceSource always fails off Linux
func NewDeviceSource() (*DeviceSource, error) {
	return nil, ErrNoCaptureDevice
}

// OpenMicrophone implements Source
func (s *DeviceSource) OpenMicrophone(AudioConstraints) (*Stream, error) {
	return nil, ErrNoCaptureDevice
}

// OpenScreen implements Source
func (s *DeviceSource) OpenScreen() (*Stream, error) {
	return nil, ErrNoCaptureDevice
}
