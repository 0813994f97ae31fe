package registry

import (
	api "github.com/flowplane/flowplane/api/v1"
	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
)

// Service is the read side of the discovery registry; every dispatch
// validates against it.
type Service struct {
	storage persistence.RegistryStorage
}

func NewService(storage persistence.RegistryStorage) *Service {
	return &Service{storage: storage}
}

// GetActiveWorkflow resolves a workflow name to its active definition.
// Unknown and deactivated workflows are both reported as not found.
func (s *Service) GetActiveWorkflow(name string) (*model.WorkflowDefinition, error) {
	wf, err := s.storage.GetWorkflowDefinition(name)
	if err != nil {
		return nil, err
	}
	if wf == nil || !wf.Active {
		return nil, api.NotFoundError{Resource: "workflow", Name: name}
	}
	return wf, nil
}

func (s *Service) GetActiveDataProvider(name string) (*model.DataProviderDefinition, error) {
	dp, err := s.storage.GetDataProviderDefinition(name)
	if err != nil {
		return nil, err
	}
	if dp == nil || !dp.Active {
		return nil, api.NotFoundError{Resource: "data provider", Name: name}
	}
	return dp, nil
}

type Snapshot struct {
	Workflows []model.WorkflowDefinition     `json:"workflows"`
	Providers []model.DataProviderDefinition `json:"providers"`
	Forms     []model.FormDefinition         `json:"forms"`
}

// GetSnapshot returns the active registry contents as a read-only snapshot.
func (s *Service) GetSnapshot() (*Snapshot, error) {
	workflows, err := s.storage.ListWorkflowDefinitions(true)
	if err != nil {
		return nil, err
	}
	providers, err := s.storage.ListDataProviderDefinitions(true)
	if err != nil {
		return nil, err
	}
	forms, err := s.storage.ListFormDefinitions(true)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Workflows: workflows, Providers: providers, Forms: forms}, nil
}
