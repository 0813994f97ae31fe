package scanner

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/model"
	"go.uber.org/zap"
)

type ScanResult struct {
	Workflows []model.WorkflowDefinition
	Providers []model.DataProviderDefinition
	Forms     []model.FormDefinition
}

// Scanner walks workspace roots and extracts declared metadata from workflow
// and data provider sources (.js with //flow: directives) and form files
// (.form.json). Files are never executed during discovery.
type Scanner struct {
	roots []string
}

func NewScanner(roots []string) *Scanner {
	return &Scanner{roots: roots}
}

// Scan never mutates persisted state and never aborts on a single bad file.
// A file that fails to parse is logged and skipped.
func (s *Scanner) Scan() (*ScanResult, error) {
	workflows := make(map[string]model.WorkflowDefinition)
	providers := make(map[string]model.DataProviderDefinition)
	forms := make(map[string]model.FormDefinition)

	for _, root := range s.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warn("error walking workspace", zap.String("path", path), zap.Error(err))
				return nil
			}
			if d.IsDir() {
				// underscore directories are private/helper modules
				if strings.HasPrefix(d.Name(), "_") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), "_") {
				return nil
			}
			switch {
			case strings.HasSuffix(d.Name(), ".form.json"):
				s.scanForm(path, forms)
			case strings.HasSuffix(d.Name(), ".js"):
				s.scanSource(path, workflows, providers)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return &ScanResult{
		Workflows: sortedValues(workflows),
		Providers: sortedValues(providers),
		Forms:     sortedValues(forms),
	}, nil
}

func (s *Scanner) scanSource(path string, workflows map[string]model.WorkflowDefinition, providers map[string]model.DataProviderDefinition) {
	src, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
		return
	}
	header, err := parseHeader(src)
	if err != nil {
		logger.Warn("skipping file with invalid header", zap.String("path", path), zap.Error(err))
		return
	}
	if header == nil {
		return
	}
	switch header.kind {
	case headerWorkflow:
		wf, err := header.toWorkflow(path)
		if err != nil {
			logger.Warn("rejecting workflow definition", zap.String("path", path), zap.Error(err))
			return
		}
		if prev, ok := workflows[wf.Name]; ok {
			logger.Warn("duplicate workflow name, last definition wins",
				zap.String("name", wf.Name), zap.String("previous", prev.SourcePath), zap.String("path", path))
		}
		workflows[wf.Name] = *wf
	case headerProvider:
		dp, err := header.toProvider(path)
		if err != nil {
			logger.Warn("rejecting data provider definition", zap.String("path", path), zap.Error(err))
			return
		}
		if prev, ok := providers[dp.Name]; ok {
			logger.Warn("duplicate data provider name, last definition wins",
				zap.String("name", dp.Name), zap.String("previous", prev.SourcePath), zap.String("path", path))
		}
		providers[dp.Name] = *dp
	}
}

type formFile struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Workflow string `json:"workflow"`
}

func (s *Scanner) scanForm(path string, forms map[string]model.FormDefinition) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("skipping unreadable form file", zap.String("path", path), zap.Error(err))
		return
	}
	var f formFile
	if err := json.Unmarshal(data, &f); err != nil {
		logger.Warn("skipping malformed form file", zap.String("path", path), zap.Error(err))
		return
	}
	if f.Name == "" || f.Workflow == "" {
		logger.Warn("rejecting form without name or workflow", zap.String("path", path))
		return
	}
	if prev, ok := forms[f.Name]; ok {
		logger.Warn("duplicate form name, last definition wins",
			zap.String("name", f.Name), zap.String("previous", prev.SourcePath), zap.String("path", path))
	}
	forms[f.Name] = model.FormDefinition{
		Name:       f.Name,
		Title:      f.Title,
		Workflow:   f.Workflow,
		SourcePath: path,
	}
}

type named interface {
	model.WorkflowDefinition | model.DataProviderDefinition | model.FormDefinition
}

func sortedValues[T named](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]T, 0, len(keys))
	for _, k := range keys {
		result = append(result, m[k])
	}
	return result
}
