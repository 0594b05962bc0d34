package envfx

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/webitel/actorkit/env"
)

func TestModuleProvidesAndRunsEnvironment(t *testing.T) {
	var captured *env.Environment

	app := fxtest.New(t,
		Module,
		fx.Invoke(func(e *env.Environment) { captured = e }),
	)
	app.RequireStart()
	require.NotNil(t, captured)
	app.RequireStop()
}

func TestProvideOptionContributesToEnvironmentConstruction(t *testing.T) {
	var captured *env.Environment

	app := fxtest.New(t,
		Module,
		ProvideOption(env.WithAutoshutdownDisabled(true)),
		fx.Invoke(func(e *env.Environment) { captured = e }),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, captured)
}
