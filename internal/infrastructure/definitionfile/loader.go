// Package definitionfile seeds workflow definitions from a YAML file at startup.
package definitionfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// File is the on-disk layout: definitions grouped by tenant
type File struct {
	Tenants []TenantDefinitions `yaml:"tenants"`
}

// TenantDefinitions lists the definitions owned by one tenant
type TenantDefinitions struct {
	TenantID    string                   `yaml:"tenant_id"`
	Definitions []service.DefinitionSpec `yaml:"definitions"`
}

// Parse decodes a definitions file. Unknown keys are rejected so that a
// misspelled field does not silently drop a guard or action.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}

	for i, t := range f.Tenants {
		if t.TenantID == "" {
			return nil, fmt.Errorf("tenants[%d]: tenant_id is required", i)
		}
	}
	return &f, nil
}

// Load reads and parses the file at path
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Seeder creates the definitions of a File through the definition service
type Seeder struct {
	definitions service.DefinitionService
	logger      *zap.Logger
}

// NewSeeder creates a new Seeder
func NewSeeder(definitions service.DefinitionService, logger *zap.Logger) *Seeder {
	return &Seeder{definitions: definitions, logger: logger}
}

// Seed creates every definition not already stored. A definition counts as
// stored when the tenant has one with the same entity type and name, so
// restarting with the same file is a no-op. It returns the number created.
func (s *Seeder) Seed(ctx context.Context, f *File) (int, error) {
	created := 0
	for _, tenant := range f.Tenants {
		for _, spec := range tenant.Definitions {
			existing, err := s.definitions.List(ctx, tenant.TenantID, spec.EntityType)
			if err != nil {
				return created, err
			}
			if hasName(existing, spec.Name) {
				s.logger.Debug("Definition already seeded",
					zap.String("tenant_id", tenant.TenantID),
					zap.String("definition", spec.String()))
				continue
			}

			bundle, err := s.definitions.Create(ctx, tenant.TenantID, spec)
			if err != nil {
				return created, fmt.Errorf("tenant %s definition %s: %w", tenant.TenantID, spec.String(), err)
			}
			created++
			s.logger.Info("Definition seeded",
				zap.String("tenant_id", tenant.TenantID),
				zap.String("definition_id", bundle.Definition.ID),
				zap.String("definition", spec.String()),
				zap.Int("states", len(bundle.States)),
				zap.Int("transitions", len(bundle.Transitions)))
		}
	}
	return created, nil
}

// SeedFile loads path and seeds it
func (s *Seeder) SeedFile(ctx context.Context, path string) (int, error) {
	f, err := Load(path)
	if err != nil {
		return 0, err
	}
	return s.Seed(ctx, f)
}

func hasName(defs []*entity.WorkflowDefinition, name string) bool {
	for _, d := range defs {
		if d.Name == name {
			return true
		}
	}
	return false
}
