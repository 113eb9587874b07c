package capture

import "fmt"

// LatestFrameProvider is a remote stream that keeps only its newest frame.
type LatestFrameProvider interface {
	// LatestFrame returns the newest frame, or false while nothing has arrived
	// or the connection is down.
	LatestFrame() (*RawFrame, bool)
}

// StreamSource adapts a LatestFrameProvider to Source.
type StreamSource struct {
	provider LatestFrameProvider
}

func NewStreamSource(provider LatestFrameProvider) *StreamSource {
	return &StreamSource{provider: provider}
}

func (s *StreamSource) Grab() (*RawFrame, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("%w: no provider", ErrSourceUnavailable)
	}
	raw, ok := s.provider.LatestFrame()
	if !ok || raw == nil {
		return nil, ErrSourceUnavailable
	}
	return raw, nil
}

// Size forwards to the provider when it knows its dimensions.
func (s *StreamSource) Size() (int, int) {
	if sz, ok := s.provider.(Sizer); ok {
		return sz.Size()
	}
	return 0, 0
}
