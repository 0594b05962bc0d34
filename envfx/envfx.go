// Package envfx assembles an actorkit environment (package env, spec.md
// §4.9) into a go.uber.org/fx app, the way the teacher's own
// internal/handler/amqp and internal/service packages each expose one
// fx.Module per concern (fx.Provide + fx.Invoke(lc fx.Lifecycle, ...)).
// Per spec.md §1's exclusion of CLI parsing and sample programs, this
// package ships no cmd/ or main.go: it is meant to be fx.Option'd into
// a host process's own fx.New call.
package envfx

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/actorkit/env"
)

// optionGroup is the fx value-group tag every env.Option contributed to
// this module's environment is collected under.
const optionGroup = `group:"actorkit_env_options"`

type optionsParams struct {
	fx.In
	Options []env.Option `group:"actorkit_env_options"`
}

// newEnvironment builds the *env.Environment from every env.Option
// contributed to the value group, plus the host's own *slog.Logger.
func newEnvironment(p optionsParams, logger *slog.Logger) (*env.Environment, error) {
	opts := append([]env.Option{env.WithLogger(logger)}, p.Options...)
	return env.New(opts...)
}

// Module provides the *env.Environment and drives its lifecycle from
// the host fx.App's own: OnStart launches stage 6 of spec.md §4.9 ("run
// until stop is requested") on a background goroutine, OnStop calls
// Environment.Stop and relies on fx's own shutdown ordering to wait for
// dependents to unwind first.
var Module = fx.Module("actorkit-env",
	fx.Provide(newEnvironment),
	fx.Invoke(func(lc fx.Lifecycle, e *env.Environment, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := e.Run(context.Background()); err != nil {
						logger.Error("actorkit environment run loop exited with error", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				e.Stop()
				return nil
			},
		})
	}),
)

// ProvideOption contributes a fixed env.Option to Module's environment,
// for options known at wiring time with no fx dependencies of their
// own (e.g. env.WithAutoshutdownDisabled(true)). Host code composes it
// alongside Module in its own fx.New call.
func ProvideOption(opt env.Option) fx.Option {
	return fx.Provide(fx.Annotate(
		func() env.Option { return opt },
		fx.ResultTags(optionGroup),
	))
}

// ProvideOptionFunc is ProvideOption for an env.Option that itself
// needs fx-supplied dependencies to build (e.g. an env.Option closing
// over a *slog.Logger-derived env.Tracer). fn's return type must be
// env.Option; its parameters are resolved from the fx graph like any
// other provider.
func ProvideOptionFunc(fn any) fx.Option {
	return fx.Provide(fx.Annotate(fn, fx.ResultTags(optionGroup)))
}
