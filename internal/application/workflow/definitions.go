package workflow

import (
	"context"
	"fmt"

	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// resolveDefinition picks the definition a new instance attaches to. An
// explicit id must name an active definition of the same tenant and entity type.
func (e *engineImpl) resolveDefinition(ctx context.Context, req StartRequest) (*domainwf.Graph, error) {
	if req.DefinitionID != "" {
		bundle, err := e.definitions.LoadDefinition(ctx, req.DefinitionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load definition: %w", err)
		}
		if bundle == nil || bundle.Definition == nil {
			return nil, domainwf.Errorf(domainwf.ErrNoActiveDefinition, "definition %s not found", req.DefinitionID)
		}
		def := bundle.Definition
		if def.TenantID != req.TenantID || def.EntityType != req.EntityType {
			return nil, domainwf.Errorf(domainwf.ErrNoActiveDefinition, "definition %s does not belong to %s/%s", def.ID, req.TenantID, req.EntityType)
		}
		if !def.IsActive {
			return nil, domainwf.Errorf(domainwf.ErrNoActiveDefinition, "definition %s is not active", def.ID)
		}
		return domainwf.NewGraph(bundle)
	}

	bundle, err := e.definitions.LoadActiveDefinition(ctx, req.TenantID, req.EntityType)
	if err != nil {
		return nil, fmt.Errorf("failed to load active definition: %w", err)
	}
	if bundle == nil {
		return nil, domainwf.Errorf(domainwf.ErrNoActiveDefinition, "tenant %s has no active definition for %s", req.TenantID, req.EntityType)
	}
	return domainwf.NewGraph(bundle)
}

// loadGraph loads the definition an existing instance is attached to
func (e *engineImpl) loadGraph(ctx context.Context, definitionID string) (*domainwf.Graph, error) {
	bundle, err := e.definitions.LoadDefinition(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	if bundle == nil {
		return nil, fmt.Errorf("definition %s referenced by instance is missing", definitionID)
	}
	return domainwf.NewGraph(bundle)
}
