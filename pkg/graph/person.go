package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// PersonService handles canonical person and identity mapping nodes. Writes
// are idempotent MERGEs so they are safe outside the batch transaction.
type PersonService struct {
	client *Client
	logger ectologger.Logger
}

// NewPersonService creates a new person service
func NewPersonService(client *Client, logger ectologger.Logger) *PersonService {
	return &PersonService{
		client: client,
		logger: logger,
	}
}

// FindPersonByEmail returns the canonical person with the given normalized
// email, or nil when none exists.
func (s *PersonService) FindPersonByEmail(ctx context.Context, email string) (*models.CanonicalPerson, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.PersonService.FindPersonByEmail")
	defer span.End()

	cypher := `
		MATCH (p:Person {email: $email})
		RETURN p
		LIMIT 1
	`

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"email": email})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, result.Err()
		}
		node, ok := result.Record().Get("p")
		if !ok {
			return nil, nil
		}
		return personFromNode(node.(neo4j.Node)), nil
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"email": email}).Error("Failed to find person by email")
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if result == nil {
		return nil, nil
	}
	return result.(*models.CanonicalPerson), nil
}

// SavePerson creates or updates a canonical person node. Empty fields never
// blank out values an earlier provider supplied.
func (s *PersonService) SavePerson(ctx context.Context, person *models.CanonicalPerson) error {
	ctx, span := tracing.StartSpan(ctx, "graph.PersonService.SavePerson")
	defer span.End()

	now := time.Now().UTC().Format(time.RFC3339)

	cypher := `
		MERGE (p:Person {id: $id})
		ON CREATE SET p.created_at = $now
		SET p.email = CASE WHEN $email = '' THEN coalesce(p.email, '') ELSE $email END,
		    p.display_name = CASE WHEN $display_name = '' THEN coalesce(p.display_name, '') ELSE $display_name END,
		    p.updated_at = $now
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":           person.ID,
			"email":        person.Email,
			"display_name": person.DisplayName,
			"now":          now,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"person_id": person.ID}).Error("Failed to save person")
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{"person_id": person.ID}).Debug("Saved person")
	return nil
}

// GetMapping returns the identity mapping for (provider, external_id), or nil.
func (s *PersonService) GetMapping(ctx context.Context, provider, externalID string) (*models.IdentityMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.PersonService.GetMapping")
	defer span.End()

	cypher := `
		MATCH (m:IdentityMapping {provider: $provider, external_id: $external_id})-[:MAPS_TO]->(p:Person)
		RETURN m, p.id AS person_id
		LIMIT 1
	`

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"provider":    provider,
			"external_id": externalID,
		})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, result.Err()
		}
		record := result.Record()
		node, ok := record.Get("m")
		if !ok {
			return nil, nil
		}
		personID, _ := record.Get("person_id")
		mapping := mappingFromNode(node.(neo4j.Node))
		if pid, ok := personID.(string); ok {
			mapping.PersonID = pid
		}
		return mapping, nil
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"provider": provider, "external_id": externalID}).Error("Failed to get identity mapping")
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if result == nil {
		return nil, nil
	}
	return result.(*models.IdentityMapping), nil
}

// saveMappingCypher upserts the mapping node, binds it to the person and
// drops any MAPS_TO edge left over from an earlier binding. A mapping points
// at exactly one person, so a rebind must not leave the old edge behind.
const saveMappingCypher = `
	MATCH (p:Person {id: $person_id})
	MERGE (m:IdentityMapping {provider: $provider, external_id: $external_id})
	ON CREATE SET m.id = $id, m.created_at = $now
	SET m.email = $email,
	    m.display_name = $display_name,
	    m.last_updated_at = $now
	MERGE (m)-[:MAPS_TO]->(p)
	WITH m, p
	OPTIONAL MATCH (m)-[stale:MAPS_TO]->(q:Person)
	WHERE q <> p
	DELETE stale
`

// SaveMapping creates or refreshes an identity mapping node and its MAPS_TO
// edge to the canonical person.
func (s *PersonService) SaveMapping(ctx context.Context, mapping *models.IdentityMapping) error {
	ctx, span := tracing.StartSpan(ctx, "graph.PersonService.SaveMapping")
	defer span.End()

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, saveMappingCypher, map[string]any{
			"id":           mapping.MappingID(),
			"provider":     mapping.Provider,
			"external_id":  mapping.ExternalID,
			"person_id":    mapping.PersonID,
			"email":        mapping.Email,
			"display_name": mapping.DisplayName,
			"now":          mapping.LastUpdatedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"provider": mapping.Provider, "external_id": mapping.ExternalID}).Error("Failed to save identity mapping")
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	return nil
}

func personFromNode(n neo4j.Node) *models.CanonicalPerson {
	person := &models.CanonicalPerson{}
	if v, ok := n.Props["id"].(string); ok {
		person.ID = v
	}
	if v, ok := n.Props["email"].(string); ok {
		person.Email = v
	}
	if v, ok := n.Props["display_name"].(string); ok {
		person.DisplayName = v
	}
	if v, ok := n.Props["created_at"].(string); ok {
		person.CreatedAt, _ = time.Parse(time.RFC3339, v)
	}
	if v, ok := n.Props["updated_at"].(string); ok {
		person.UpdatedAt, _ = time.Parse(time.RFC3339, v)
	}
	return person
}

func mappingFromNode(n neo4j.Node) *models.IdentityMapping {
	mapping := &models.IdentityMapping{}
	if v, ok := n.Props["provider"].(string); ok {
		mapping.Provider = v
	}
	if v, ok := n.Props["external_id"].(string); ok {
		mapping.ExternalID = v
	}
	if v, ok := n.Props["email"].(string); ok {
		mapping.Email = v
	}
	if v, ok := n.Props["display_name"].(string); ok {
		mapping.DisplayName = v
	}
	if v, ok := n.Props["last_updated_at"].(string); ok {
		mapping.LastUpdatedAt, _ = time.Parse(time.RFC3339, v)
	}
	return mapping
}
