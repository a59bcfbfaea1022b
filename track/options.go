package track

import "log/slog"

// Option configures sample reconstruction.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	suppressFlags bool
}

func newOptions(opts []Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger that receives one line per reconstruction
// failure. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithoutFlags leaves Sample.Flags nil on fragment samples.
func WithoutFlags() Option {
	return func(o *options) { o.suppressFlags = true }
}

// fail logs err once and returns it.
func (o *options) fail(err error, attrs ...any) error {
	o.logger.Warn("track: samples not computed", append([]any{"err", err}, attrs...)...)
	return err
}
