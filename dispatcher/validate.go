package dispatcher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	api "github.com/flowplane/flowplane/api/v1"
	"github.com/flowplane/flowplane/model"
	"github.com/oliveagle/jsonpath"
)

// ValidateParams checks caller input against the declared parameter schema:
// required-field presence, type coercion, pattern validation and defaults.
// Undeclared input keys are dropped. The returned map is what the workflow
// actually receives.
func ValidateParams(defs []model.ParameterDefinition, input map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	for _, def := range defs {
		raw, present := input[def.Name]
		if !present || raw == nil {
			if def.Default != nil {
				out[def.Name] = resolveDefault(def.Default, input)
				continue
			}
			if def.Required {
				return nil, api.ValidationError{Field: def.Name, Message: "required parameter missing"}
			}
			continue
		}
		value, err := coerce(def, raw)
		if err != nil {
			return nil, err
		}
		out[def.Name] = value
	}
	return out, nil
}

func coerce(def model.ParameterDefinition, raw any) (any, error) {
	switch def.Type {
	case model.PARAM_TYPE_STRING:
		s, ok := raw.(string)
		if !ok {
			return nil, api.ValidationError{Field: def.Name, Message: fmt.Sprintf("expected string, got %T", raw)}
		}
		if def.Pattern != "" {
			re, err := regexp.Compile(def.Pattern)
			if err != nil {
				return nil, api.ValidationError{Field: def.Name, Message: "invalid pattern in parameter definition"}
			}
			if !re.MatchString(s) {
				return nil, api.ValidationError{Field: def.Name, Message: fmt.Sprintf("value does not match pattern %s", def.Pattern)}
			}
		}
		return s, nil
	case model.PARAM_TYPE_INT:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, api.ValidationError{Field: def.Name, Message: "expected integer"}
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, api.ValidationError{Field: def.Name, Message: "expected integer"}
			}
			return n, nil
		}
		return nil, api.ValidationError{Field: def.Name, Message: fmt.Sprintf("expected integer, got %T", raw)}
	case model.PARAM_TYPE_FLOAT:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, api.ValidationError{Field: def.Name, Message: "expected number"}
			}
			return f, nil
		}
		return nil, api.ValidationError{Field: def.Name, Message: fmt.Sprintf("expected number, got %T", raw)}
	case model.PARAM_TYPE_BOOL:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, api.ValidationError{Field: def.Name, Message: "expected boolean"}
			}
			return b, nil
		}
		return nil, api.ValidationError{Field: def.Name, Message: fmt.Sprintf("expected boolean, got %T", raw)}
	case model.PARAM_TYPE_LIST:
		if v, ok := raw.([]any); ok {
			return v, nil
		}
		return nil, api.ValidationError{Field: def.Name, Message: fmt.Sprintf("expected list, got %T", raw)}
	case model.PARAM_TYPE_MAP:
		if v, ok := raw.(map[string]any); ok {
			return v, nil
		}
		return nil, api.ValidationError{Field: def.Name, Message: fmt.Sprintf("expected object, got %T", raw)}
	}
	return nil, api.ValidationError{Field: def.Name, Message: fmt.Sprintf("unknown parameter type %s", def.Type)}
}

var templateToken = regexp.MustCompile(`{(\$[^}]*)}`)

// resolveDefault substitutes {$.path} tokens in string defaults with values
// looked up from the caller's input.
func resolveDefault(def any, input map[string]any) any {
	s, ok := def.(string)
	if !ok {
		return def
	}
	tokens := templateToken.FindAllStringSubmatch(s, -1)
	for _, token := range tokens {
		value, err := jsonpath.JsonPathLookup(map[string]any(input), token[1])
		if err != nil {
			continue
		}
		s = strings.ReplaceAll(s, token[0], fmt.Sprintf("%v", value))
	}
	return s
}
