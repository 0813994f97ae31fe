package scanner

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowplane/flowplane/model"
)

const directivePrefix = "//flow:"

type headerKind int

const (
	headerWorkflow headerKind = iota + 1
	headerProvider
)

type header struct {
	kind        headerKind
	name        string
	description string
	category    string
	tags        []string
	mode        string
	schedule    string
	orgRequired bool
	form        bool
	ttl         int
	params      []paramDirective
}

type paramDirective struct {
	name  string
	attrs map[string]string
	flags map[string]bool
}

// parseHeader reads //flow: directives from the top of a source file. The
// header ends at the first line that is neither blank nor a line comment.
// Returns nil if the file declares nothing.
func parseHeader(src []byte) (*header, error) {
	h := &header{}
	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "//") {
			break
		}
		if !strings.HasPrefix(line, directivePrefix) {
			continue
		}
		directive := strings.TrimPrefix(line, directivePrefix)
		name, rest, _ := strings.Cut(directive, " ")
		rest = strings.TrimSpace(rest)
		switch name {
		case "workflow":
			if h.kind != 0 {
				return nil, fmt.Errorf("multiple workflow/provider directives")
			}
			h.kind = headerWorkflow
			attrs, _, err := parseAttrs(rest)
			if err != nil {
				return nil, err
			}
			h.name = attrs["name"]
			h.mode = attrs["mode"]
		case "provider":
			if h.kind != 0 {
				return nil, fmt.Errorf("multiple workflow/provider directives")
			}
			h.kind = headerProvider
			attrs, _, err := parseAttrs(rest)
			if err != nil {
				return nil, err
			}
			h.name = attrs["name"]
			if v, ok := attrs["ttl"]; ok {
				ttl, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("invalid ttl %q", v)
				}
				h.ttl = ttl
			}
		case "description":
			h.description = rest
		case "category":
			h.category = rest
		case "tags":
			for _, t := range strings.Split(rest, ",") {
				if t = strings.TrimSpace(t); t != "" {
					h.tags = append(h.tags, t)
				}
			}
		case "schedule":
			h.schedule = rest
		case "org-required":
			h.orgRequired = true
		case "form":
			h.form = true
		case "param":
			pname, attrLine, _ := strings.Cut(rest, " ")
			if pname == "" {
				return nil, fmt.Errorf("param directive without a name")
			}
			attrs, flags, err := parseAttrs(strings.TrimSpace(attrLine))
			if err != nil {
				return nil, err
			}
			h.params = append(h.params, paramDirective{name: pname, attrs: attrs, flags: flags})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if h.kind == 0 {
		return nil, nil
	}
	return h, nil
}

func (h *header) toWorkflow(path string) (*model.WorkflowDefinition, error) {
	if h.name == "" {
		return nil, fmt.Errorf("workflow directive requires name")
	}
	mode := model.ExecutionMode(h.mode)
	if mode == "" {
		mode = model.MODE_ASYNC
	}
	if mode != model.MODE_SYNC && mode != model.MODE_ASYNC {
		return nil, fmt.Errorf("invalid execution mode %q", h.mode)
	}
	params := make([]model.ParameterDefinition, 0, len(h.params))
	for _, p := range h.params {
		param, err := p.toParameter()
		if err != nil {
			return nil, err
		}
		params = append(params, *param)
	}
	return &model.WorkflowDefinition{
		Name:        h.name,
		Description: h.description,
		Category:    h.category,
		Tags:        h.tags,
		Parameters:  params,
		Mode:        mode,
		OrgRequired: h.orgRequired,
		Form:        h.form,
		Schedule:    h.schedule,
		SourcePath:  path,
	}, nil
}

func (h *header) toProvider(path string) (*model.DataProviderDefinition, error) {
	if h.name == "" {
		return nil, fmt.Errorf("provider directive requires name")
	}
	return &model.DataProviderDefinition{
		Name:        h.name,
		Description: h.description,
		Category:    h.category,
		CacheTTL:    h.ttl,
		SourcePath:  path,
	}, nil
}

func (p paramDirective) toParameter() (*model.ParameterDefinition, error) {
	typ, ok := p.attrs["type"]
	if !ok {
		return nil, fmt.Errorf("param %s is missing required field type", p.name)
	}
	if !model.ValidParamType(typ) {
		return nil, fmt.Errorf("param %s has unknown type %q", p.name, typ)
	}
	param := &model.ParameterDefinition{
		Name:     p.name,
		Type:     model.ParamType(typ),
		Label:    p.attrs["label"],
		Required: p.flags["required"],
		Pattern:  p.attrs["pattern"],
		Provider: p.attrs["provider"],
		Help:     p.attrs["help"],
	}
	if raw, ok := p.attrs["default"]; ok {
		def, err := parseDefault(param.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("param %s has invalid default: %w", p.name, err)
		}
		param.Default = def
	}
	return param, nil
}

func parseDefault(typ model.ParamType, raw string) (any, error) {
	switch typ {
	case model.PARAM_TYPE_INT:
		v, err := strconv.ParseInt(raw, 10, 64)
		return v, err
	case model.PARAM_TYPE_FLOAT:
		v, err := strconv.ParseFloat(raw, 64)
		return v, err
	case model.PARAM_TYPE_BOOL:
		v, err := strconv.ParseBool(raw)
		return v, err
	case model.PARAM_TYPE_LIST:
		var v []any
		err := json.Unmarshal([]byte(raw), &v)
		return v, err
	case model.PARAM_TYPE_MAP:
		var v map[string]any
		err := json.Unmarshal([]byte(raw), &v)
		return v, err
	}
	return raw, nil
}

// parseAttrs splits `key=value key="quoted value" flag` tokens.
func parseAttrs(s string) (map[string]string, map[string]bool, error) {
	attrs := make(map[string]string)
	flags := make(map[string]bool)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		eq := -1
		end := len(s)
		for i := 0; i < len(s); i++ {
			if s[i] == '=' && eq < 0 {
				eq = i
				continue
			}
			if s[i] == ' ' && eq < 0 {
				end = i
				break
			}
			if s[i] == ' ' && eq >= 0 && !strings.HasPrefix(s[eq+1:], `"`) {
				end = i
				break
			}
		}
		if eq < 0 {
			flags[s[:end]] = true
			s = s[end:]
			continue
		}
		key := s[:eq]
		rest := s[eq+1:]
		if strings.HasPrefix(rest, `"`) {
			closing := strings.Index(rest[1:], `"`)
			if closing < 0 {
				return nil, nil, fmt.Errorf("unterminated quote in %q", s)
			}
			attrs[key] = rest[1 : closing+1]
			s = rest[closing+2:]
			continue
		}
		valEnd := strings.IndexByte(rest, ' ')
		if valEnd < 0 {
			valEnd = len(rest)
		}
		attrs[key] = rest[:valEnd]
		s = rest[valEnd:]
	}
	return attrs, flags, nil
}
