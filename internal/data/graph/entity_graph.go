package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/autoforge-backend/internal/observability"
	perrors "github.com/yungbote/autoforge-backend/internal/pkg/errors"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/platform/neo4jdb"
	"github.com/yungbote/autoforge-backend/internal/types"
)

// EntityGraph stores extracted entities and typed relations in Neo4j and
// serves k-hop neighborhood expansion for retrieval.
type EntityGraph struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewEntityGraph(ctx context.Context, client *neo4jdb.Client, log *logger.Logger) *EntityGraph {
	g := &EntityGraph{client: client, log: log.With("store", "EntityGraph")}
	g.ensureSchema(ctx)
	return g
}

// ensureSchema creates the uniqueness constraint best-effort; restricted
// users may not be allowed to manage schema.
func (g *EntityGraph) ensureSchema(ctx context.Context) {
	if g.client == nil || g.client.Driver == nil {
		return
	}
	session := g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.client.Database,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, `CREATE CONSTRAINT entity_name_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`, nil)
	if err != nil {
		g.log.Warn("neo4j schema init failed (continuing)", "error", err)
		return
	}
	_, _ = res.Consume(ctx)
}

func (g *EntityGraph) UpsertEntities(ctx context.Context, entities []types.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	if g.client == nil || g.client.Driver == nil {
		return fmt.Errorf("%w: graph store not connected", perrors.ErrStorageUnavailable)
	}

	rows := make([]map[string]interface{}, 0, len(entities))
	for _, ent := range entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			continue
		}
		entType := strings.TrimSpace(ent.Type)
		if entType == "" {
			entType = "unknown"
		}
		rows = append(rows, map[string]interface{}{"name": name, "type": entType})
	}
	if len(rows) == 0 {
		return nil
	}

	session := g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rows AS row
MERGE (e:Entity {name: row.name})
SET e.type = row.type, e.updated_at = datetime()
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		return nil, consume(ctx, res)
	})
	if err != nil {
		return fmt.Errorf("%w: upsert entities: %v", perrors.ErrStorageUnavailable, err)
	}

	observability.Current().AddEntitiesUpserted(len(rows))
	g.log.Debug("Entities upserted", "count", len(rows))
	return nil
}

// UpsertRelations merges directed edges between existing entities. The
// relation label is sanitized to [A-Za-z0-9_]; endpoints that do not exist
// are skipped by the MATCH, so no phantom nodes appear.
func (g *EntityGraph) UpsertRelations(ctx context.Context, relations []types.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	if g.client == nil || g.client.Driver == nil {
		return fmt.Errorf("%w: graph store not connected", perrors.ErrStorageUnavailable)
	}

	// Labels cannot be parameterized, so group the endpoint pairs per label
	// and run one UNWIND per distinct label.
	byLabel := map[string][]map[string]interface{}{}
	for _, rel := range relations {
		src := strings.TrimSpace(rel.Source)
		tgt := strings.TrimSpace(rel.Target)
		if src == "" || tgt == "" {
			continue
		}
		label := sanitizeRelLabel(rel.Relation)
		byLabel[label] = append(byLabel[label], map[string]interface{}{"src": src, "tgt": tgt})
	}
	if len(byLabel) == 0 {
		return nil
	}

	session := g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for label, pairs := range byLabel {
			res, err := tx.Run(ctx, fmt.Sprintf(`
UNWIND $pairs AS pair
MATCH (a:Entity {name: pair.src})
MATCH (b:Entity {name: pair.tgt})
MERGE (a)-[r:%s]->(b)
SET r.updated_at = datetime()
`, label), map[string]any{"pairs": pairs})
			if err != nil {
				return nil, err
			}
			if err := consume(ctx, res); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: upsert relations: %v", perrors.ErrStorageUnavailable, err)
	}

	g.log.Debug("Relations upserted", "count", len(relations))
	return nil
}

// Expand returns up to 50 distinct neighbor names reachable within
// 1..min(depth,5) hops from any seed, excluding the seeds themselves.
func (g *EntityGraph) Expand(ctx context.Context, seeds []string, depth int) ([]string, error) {
	if len(seeds) == 0 {
		return []string{}, nil
	}
	if g.client == nil || g.client.Driver == nil {
		return nil, fmt.Errorf("%w: graph store not connected", perrors.ErrStorageUnavailable)
	}

	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}

	start := time.Now()
	session := g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: g.client.Database,
	})
	defer session.Close(ctx)

	names, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (seed:Entity)
WHERE seed.name IN $seeds
MATCH (seed)-[*1..%d]-(neighbor:Entity)
WHERE NOT neighbor.name IN $seeds
RETURN DISTINCT neighbor.name AS name
LIMIT 50
`, depth), map[string]any{"seeds": seeds})
		if err != nil {
			return nil, err
		}
		var out []string
		for res.Next(ctx) {
			if name, ok := res.Record().Get("name"); ok {
				if s, ok := name.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: expand: %v", perrors.ErrStorageUnavailable, err)
	}

	observability.Current().ObserveGraphExpand(time.Since(start))
	out, _ := names.([]string)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// sanitizeRelLabel maps a free-text relation onto a legal Neo4j relationship
// type. Everything outside [A-Za-z0-9_] becomes an underscore; an empty or
// fully non-representable relation falls back to RELATED_TO.
func sanitizeRelLabel(rel string) string {
	var b strings.Builder
	for _, r := range rel {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	label := b.String()
	if strings.Trim(label, "_") == "" {
		return "RELATED_TO"
	}
	return label
}

func consume(ctx context.Context, res neo4j.ResultWithContext) error {
	_, err := res.Consume(ctx)
	return err
}
