package mainctx

import (
	"github.com/joeycumines/logiface"
)

// contextOptions holds configuration options for Context creation.
type contextOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// Option configures a Context instance.
type Option interface {
	applyContext(*contextOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyContextFunc func(*contextOptions) error
}

func (o *optionImpl) applyContext(opts *contextOptions) error {
	return o.applyContextFunc(opts)
}

// WithLogger sets the structured logger. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *contextOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to contextOptions.
func resolveOptions(opts []Option) (*contextOptions, error) {
	cfg := &contextOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyContext(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
