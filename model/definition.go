package model

import (
	"encoding/json"
	"time"
)

type ExecutionMode string

const MODE_SYNC ExecutionMode = "sync"
const MODE_ASYNC ExecutionMode = "async"

type ParamType string

const PARAM_TYPE_STRING ParamType = "string"
const PARAM_TYPE_INT ParamType = "int"
const PARAM_TYPE_FLOAT ParamType = "float"
const PARAM_TYPE_BOOL ParamType = "bool"
const PARAM_TYPE_LIST ParamType = "list"
const PARAM_TYPE_MAP ParamType = "map"

func ValidParamType(t string) bool {
	switch ParamType(t) {
	case PARAM_TYPE_STRING, PARAM_TYPE_INT, PARAM_TYPE_FLOAT, PARAM_TYPE_BOOL, PARAM_TYPE_LIST, PARAM_TYPE_MAP:
		return true
	}
	return false
}

type ParameterDefinition struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Label    string    `json:"label,omitempty"`
	Required bool      `json:"required"`
	Pattern  string    `json:"pattern,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Default  any       `json:"default,omitempty"`
	Help     string    `json:"help,omitempty"`
}

type WorkflowDefinition struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Category    string                `json:"category,omitempty"`
	Tags        []string              `json:"tags,omitempty"`
	Parameters  []ParameterDefinition `json:"parameters,omitempty"`
	Mode        ExecutionMode         `json:"mode"`
	OrgRequired bool                  `json:"orgRequired"`
	Form        bool                  `json:"form"`
	Schedule    string                `json:"schedule,omitempty"`
	SourcePath  string                `json:"sourcePath"`
	Active      bool                  `json:"active"`
	LastSeenAt  time.Time             `json:"lastSeenAt"`
}

// Fingerprint covers every scanned field. LastSeenAt and Active are
// lifecycle state owned by the synchronizer and are excluded.
func (w WorkflowDefinition) Fingerprint() string {
	c := w
	c.LastSeenAt = time.Time{}
	c.Active = false
	data, _ := json.Marshal(c)
	return string(data)
}

type DataProviderDefinition struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	CacheTTL    int       `json:"cacheTtlSeconds"`
	SourcePath  string    `json:"sourcePath"`
	Active      bool      `json:"active"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

func (d DataProviderDefinition) Fingerprint() string {
	c := d
	c.LastSeenAt = time.Time{}
	c.Active = false
	data, _ := json.Marshal(c)
	return string(data)
}

type FormDefinition struct {
	Name       string    `json:"name"`
	Title      string    `json:"title,omitempty"`
	Workflow   string    `json:"workflow"`
	SourcePath string    `json:"sourcePath"`
	Active     bool      `json:"active"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

func (f FormDefinition) Fingerprint() string {
	c := f
	c.LastSeenAt = time.Time{}
	c.Active = false
	data, _ := json.Marshal(c)
	return string(data)
}
