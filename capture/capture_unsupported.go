//go:build !linux && !darwin && !windows

package capture

func open(_ *Options) (*Stream, error) {
	return nil, ErrNotImplemented
}
