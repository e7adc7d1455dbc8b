package network

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
)

// Resolver maps candidates onto canonical entities and records mentions.
type Resolver struct {
	store      store.Store
	normalizer *Normalizer
	now        func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(st store.Store, normalizer *Normalizer) *Resolver {
	return &Resolver{store: st, normalizer: normalizer, now: time.Now}
}

// Resolve returns the ID of the entity c refers to, creating it or adding
// c.Name as an alias as needed, and upserts the mention for articleID.
//
// An alias only ever points at a canonical entity: a name already known by
// name or alias is reused as is, and a new name whose canonical form exists
// becomes an alias of that entity.
func (r *Resolver) Resolve(ctx context.Context, c Candidate, articleID, clusterID string) (string, error) {
	id, err := r.resolveEntity(ctx, c)
	if err != nil {
		return "", err
	}
	if err := r.store.UpsertMention(ctx, model.EntityMention{
		EntityID:  id,
		ArticleID: articleID,
		ClusterID: clusterID,
	}); err != nil {
		return id, eris.Wrap(err, "network: store mention")
	}
	return id, nil
}

func (r *Resolver) resolveEntity(ctx context.Context, c Candidate) (string, error) {
	existing, err := r.store.FindEntity(ctx, c.Name, c.Type)
	if err != nil {
		return "", eris.Wrap(err, "network: find entity")
	}
	if existing != nil {
		if err := r.store.TouchEntity(ctx, existing.ID, r.now().UTC()); err != nil {
			return "", eris.Wrap(err, "network: touch entity")
		}
		return existing.ID, nil
	}

	canonical := r.normalizer.Canonical(ctx, c.Name, c.Type)
	if id, ok, err := r.aliasOfCanonical(ctx, c, canonical); err != nil || ok {
		return id, err
	}

	e := &model.Entity{Name: c.Name, Type: c.Type, CanonicalName: canonical, Aliases: []string{}}
	if canonical != c.Name {
		e.Aliases = []string{c.Name}
	}
	err = r.store.CreateEntity(ctx, e)
	if errors.Is(err, store.ErrDuplicateEntity) {
		// Another worker created it first.
		id, ok, err := r.aliasOfCanonical(ctx, c, canonical)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", eris.Errorf("network: entity %q (%s) vanished after duplicate insert", canonical, c.Type)
		}
		return id, nil
	}
	if err != nil {
		return "", eris.Wrap(err, "network: create entity")
	}
	return e.ID, nil
}

// aliasOfCanonical looks up the canonical entity and records c.Name as one
// of its aliases.
func (r *Resolver) aliasOfCanonical(ctx context.Context, c Candidate, canonical string) (string, bool, error) {
	existing, err := r.store.FindEntityByCanonical(ctx, canonical, c.Type)
	if err != nil {
		return "", false, eris.Wrap(err, "network: find canonical entity")
	}
	if existing == nil {
		return "", false, nil
	}
	if c.Name != existing.CanonicalName {
		if err := r.store.AddAlias(ctx, existing.ID, c.Name); err != nil {
			return "", false, eris.Wrap(err, "network: add alias")
		}
	} else if err := r.store.TouchEntity(ctx, existing.ID, r.now().UTC()); err != nil {
		return "", false, eris.Wrap(err, "network: touch entity")
	}
	return existing.ID, true, nil
}
