//go:build !portaudio

package audio

// NewDeviceProvider reports no hardware in builds without the portaudio
// tag; the engine degrades to text/video-only operation.
func NewDeviceProvider() (DeviceProvider, error) {
	return nil, ErrNoDevice
}
