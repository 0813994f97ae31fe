package dataprovider

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dop251/goja"
	api "github.com/flowplane/flowplane/api/v1"
	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/registry"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const evalTimeout = 10 * time.Second

// Option is one selectable value produced by a data provider.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Service evaluates data provider scripts and caches their options per the
// provider's declared TTL. Provider scripts are pure option producers; they
// get no execution context and no platform write access.
type Service struct {
	registry *registry.Service
	cache    *gocache.Cache
}

func NewService(reg *registry.Service) *Service {
	return &Service{
		registry: reg,
		cache:    gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// GetOptions returns the provider's options, served from cache while fresh.
// A provider with a zero TTL is evaluated on every call.
func (s *Service) GetOptions(name string) ([]Option, error) {
	def, err := s.registry.GetActiveDataProvider(name)
	if err != nil {
		return nil, err
	}
	if def.CacheTTL > 0 {
		if cached, ok := s.cache.Get(name); ok {
			return cached.([]Option), nil
		}
	}
	options, err := s.evaluate(def.Name, def.SourcePath)
	if err != nil {
		return nil, err
	}
	if def.CacheTTL > 0 {
		s.cache.Set(name, options, time.Duration(def.CacheTTL)*time.Second)
	}
	return options, nil
}

// Invalidate drops cached options, used when a rescan changes the provider.
func (s *Service) Invalidate(name string) {
	s.cache.Delete(name)
}

func (s *Service) evaluate(name string, sourcePath string) ([]Option, error) {
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, api.IntegrationError{Service: "dataprovider", Message: fmt.Sprintf("error loading data provider %s: %v", name, err)}
	}

	vm := goja.New()
	timer := time.AfterFunc(evalTimeout, func() {
		vm.Interrupt("data provider evaluation timed out")
	})
	defer timer.Stop()

	if _, err := vm.RunScript(sourcePath, string(src)); err != nil {
		return nil, providerError(name, err)
	}
	handler, ok := goja.AssertFunction(vm.Get("handler"))
	if !ok {
		return nil, api.IntegrationError{Service: "dataprovider", Message: fmt.Sprintf("data provider %s does not define a handler function", name)}
	}
	value, err := handler(goja.Undefined())
	if err != nil {
		return nil, providerError(name, err)
	}

	options, err := exportOptions(value)
	if err != nil {
		return nil, api.IntegrationError{Service: "dataprovider", Message: fmt.Sprintf("data provider %s: %v", name, err)}
	}
	logger.Debug("evaluated data provider", zap.String("provider", name), zap.Int("options", len(options)))
	return options, nil
}

func providerError(name string, err error) error {
	if exc, ok := err.(*goja.Exception); ok {
		return api.IntegrationError{Service: "dataprovider", Message: fmt.Sprintf("data provider %s failed: %s", name, exc.Error())}
	}
	return api.IntegrationError{Service: "dataprovider", Message: fmt.Sprintf("data provider %s failed: %v", name, err)}
}

// exportOptions accepts either a list of {value,label} objects or a plain
// object whose keys become values and whose values become labels.
func exportOptions(value goja.Value) ([]Option, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, fmt.Errorf("handler returned nothing")
	}
	switch exported := value.Export().(type) {
	case []any:
		options := make([]Option, 0, len(exported))
		for _, item := range exported {
			obj, ok := item.(map[string]any)
			if !ok {
				options = append(options, Option{Value: fmt.Sprint(item), Label: fmt.Sprint(item)})
				continue
			}
			opt := Option{}
			if v, ok := obj["value"]; ok {
				opt.Value = fmt.Sprint(v)
			}
			if l, ok := obj["label"]; ok {
				opt.Label = fmt.Sprint(l)
			}
			if opt.Label == "" {
				opt.Label = opt.Value
			}
			options = append(options, opt)
		}
		return options, nil
	case map[string]any:
		options := make([]Option, 0, len(exported))
		for k, v := range exported {
			options = append(options, Option{Value: k, Label: fmt.Sprint(v)})
		}
		sort.Slice(options, func(i, j int) bool { return options[i].Value < options[j].Value })
		return options, nil
	default:
		return nil, fmt.Errorf("handler returned unsupported type %T", exported)
	}
}
