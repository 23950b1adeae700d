package bridge

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// backendOptions holds configuration options for Backend creation.
type backendOptions struct {
	logger     *logiface.Logger[logiface.Event]
	metrics    *Metrics
	classify   func(fd int) (fdClass, error)
	warnRates  map[time.Duration]int
	noFallback bool
}

// Option configures a Backend, or a MainLoop.
type Option interface {
	applyBackend(*backendOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyBackendFunc func(*backendOptions) error
}

func (o *optionImpl) applyBackend(opts *backendOptions) error {
	return o.applyBackendFunc(opts)
}

// WithLogger sets the structured logger. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *backendOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics sets the collectors updated by the backend. Metrics may be
// shared by any number of backends.
func WithMetrics(metrics *Metrics) Option {
	return &optionImpl{func(opts *backendOptions) error {
		opts.metrics = metrics
		return nil
	}}
}

// WithFallback enables (the default) or disables out-of-band probing of
// descriptors the native poller cannot watch. Disabled, such descriptors
// are rejected by AddFD, and no idle trigger is opened.
func WithFallback(enabled bool) Option {
	return &optionImpl{func(opts *backendOptions) error {
		opts.noFallback = !enabled
		return nil
	}}
}

// WithWarningRates sets the rate limits applied to repetitive warnings,
// such as failures to acquire the context, in events per window. An empty
// map disables rate limiting.
func WithWarningRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *backendOptions) (err error) {
		if len(rates) != 0 {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("bridge: invalid warning rates: %v", r)
				}
			}()
			// panics on invalid rates
			_ = catrate.NewLimiter(rates)
		}
		opts.warnRates = rates
		return nil
	}}
}

// withClassifier replaces descriptor classification.
func withClassifier(classify func(fd int) (fdClass, error)) Option {
	return &optionImpl{func(opts *backendOptions) error {
		opts.classify = classify
		return nil
	}}
}

// resolveOptions applies Option instances to backendOptions.
func resolveOptions(opts []Option) (*backendOptions, error) {
	cfg := &backendOptions{
		classify:  classify,
		warnRates: map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyBackend(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
