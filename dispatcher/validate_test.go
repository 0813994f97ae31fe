package dispatcher

import (
	"testing"

	api "github.com/flowplane/flowplane/api/v1"
	"github.com/flowplane/flowplane/model"
	"github.com/stretchr/testify/require"
)

func TestValidateParams(t *testing.T) {
	defs := []model.ParameterDefinition{
		{Name: "person", Type: model.PARAM_TYPE_STRING, Required: true},
		{Name: "count", Type: model.PARAM_TYPE_INT, Default: int64(1)},
		{Name: "ratio", Type: model.PARAM_TYPE_FLOAT},
		{Name: "dryRun", Type: model.PARAM_TYPE_BOOL},
		{Name: "env", Type: model.PARAM_TYPE_STRING, Pattern: "^(dev|prod)$"},
	}

	for scenario, fn := range map[string]func(t *testing.T){
		"test required missing": func(t *testing.T) {
			_, err := ValidateParams(defs, map[string]any{})
			require.Error(t, err)
			verr, ok := err.(api.ValidationError)
			require.True(t, ok)
			require.Equal(t, "person", verr.Field)
		},
		"test default applied": func(t *testing.T) {
			out, err := ValidateParams(defs, map[string]any{"person": "ada"})
			require.NoError(t, err)
			require.Equal(t, int64(1), out["count"])
		},
		"test json number coerced to int": func(t *testing.T) {
			out, err := ValidateParams(defs, map[string]any{"person": "ada", "count": float64(3)})
			require.NoError(t, err)
			require.Equal(t, int64(3), out["count"])
		},
		"test fractional rejected for int": func(t *testing.T) {
			_, err := ValidateParams(defs, map[string]any{"person": "ada", "count": 3.5})
			require.Error(t, err)
		},
		"test string parsed for bool": func(t *testing.T) {
			out, err := ValidateParams(defs, map[string]any{"person": "ada", "dryRun": "true"})
			require.NoError(t, err)
			require.Equal(t, true, out["dryRun"])
		},
		"test pattern mismatch": func(t *testing.T) {
			_, err := ValidateParams(defs, map[string]any{"person": "ada", "env": "staging"})
			require.Error(t, err)
			require.Equal(t, api.KIND_VALIDATION, api.KindOf(err))
		},
		"test pattern match": func(t *testing.T) {
			out, err := ValidateParams(defs, map[string]any{"person": "ada", "env": "prod"})
			require.NoError(t, err)
			require.Equal(t, "prod", out["env"])
		},
		"test wrong type": func(t *testing.T) {
			_, err := ValidateParams(defs, map[string]any{"person": 42})
			require.Error(t, err)
		},
		"test undeclared keys dropped": func(t *testing.T) {
			out, err := ValidateParams(defs, map[string]any{"person": "ada", "extra": "x"})
			require.NoError(t, err)
			require.NotContains(t, out, "extra")
		},
	} {
		t.Run(scenario, fn)
	}
}

func TestResolveDefaultTemplating(t *testing.T) {
	defs := []model.ParameterDefinition{
		{Name: "person", Type: model.PARAM_TYPE_STRING, Required: true},
		{Name: "greeting", Type: model.PARAM_TYPE_STRING, Default: "Hello, {$.person}!"},
	}
	out, err := ValidateParams(defs, map[string]any{"person": "ada"})
	require.NoError(t, err)
	require.Equal(t, "Hello, ada!", out["greeting"])
}
