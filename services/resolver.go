package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

// Metadata is the optional data attached to an entity when it is created.
// It is ignored when the name already resolves.
type Metadata interface {
	Kind() models.EntityKind
}

// ProductMeta comes from the submission form or the image classifier; blank
// fields are stored as blank placeholders.
type ProductMeta struct {
	Brand    string
	Category string
	Barcode  string
}

func (ProductMeta) Kind() models.EntityKind { return models.KindProduct }

// StoreMeta carries the address and the client's geolocation, if any.
type StoreMeta struct {
	Address string
	Geo     *models.Geo
}

func (StoreMeta) Kind() models.EntityKind { return models.KindStore }

// Resolver maps a typed name onto a canonical entity, creating it on first
// reference. Names match exactly after trimming outer whitespace.
//
// Within one process resolution is serialised per (kind, name). Across
// processes uniqueness depends on the backend: PostgreSQL enforces it with
// a unique index, the memory store does not, and concurrent resolvers there
// may create duplicates. Duplicates are never merged; lookups pick the
// oldest.
type Resolver struct {
	entities storage.EntityStore
	locks    *utils.KeyedMutex
	clock    func() time.Time
	logger   *utils.Logger
}

func NewResolver(entities storage.EntityStore, logger *utils.Logger) *Resolver {
	return &Resolver{
		entities: entities,
		locks:    utils.NewKeyedMutex(),
		clock:    now,
		logger:   logger.With("resolver"),
	}
}

// Resolve returns the id of the entity of the given kind named name. meta may
// be nil; otherwise it must match kind.
func (r *Resolver) Resolve(ctx context.Context, kind models.EntityKind, name string, meta Metadata) (string, error) {
	if meta != nil && meta.Kind() != kind {
		return "", &models.ValidationError{Field: "metadata", Reason: fmt.Sprintf("%s metadata for a %s", meta.Kind(), kind)}
	}

	switch kind {
	case models.KindProduct:
		pm, _ := meta.(ProductMeta)
		return r.ResolveProduct(ctx, name, pm)
	case models.KindStore:
		sm, _ := meta.(StoreMeta)
		return r.ResolveStore(ctx, name, sm)
	}
	return "", &models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", kind)}
}

func (r *Resolver) ResolveProduct(ctx context.Context, name string, meta ProductMeta) (string, error) {
	return getOrCreate(ctx, r, models.KindProduct, name,
		r.entities.FindProductsByName,
		func(p *models.Product) string { return p.ID },
		func(ctx context.Context, name string) (string, error) {
			at := r.clock()
			p := &models.Product{
				ID:        newID(),
				Name:      name,
				Brand:     strings.TrimSpace(meta.Brand),
				Category:  strings.TrimSpace(meta.Category),
				Barcode:   strings.TrimSpace(meta.Barcode),
				CreatedAt: at,
				UpdatedAt: at,
			}
			return p.ID, r.entities.InsertProduct(ctx, p)
		})
}

func (r *Resolver) ResolveStore(ctx context.Context, name string, meta StoreMeta) (string, error) {
	if meta.Geo != nil {
		if err := validateGeo(*meta.Geo); err != nil {
			return "", err
		}
	}
	return getOrCreate(ctx, r, models.KindStore, name,
		r.entities.FindStoresByName,
		func(s *models.Store) string { return s.ID },
		func(ctx context.Context, name string) (string, error) {
			s := &models.Store{
				ID:        newID(),
				Name:      name,
				Address:   strings.TrimSpace(meta.Address),
				CreatedAt: r.clock(),
			}
			if meta.Geo != nil {
				lat, lng := meta.Geo.Latitude, meta.Geo.Longitude
				s.Latitude, s.Longitude = &lat, &lng
			}
			return s.ID, r.entities.InsertStore(ctx, s)
		})
}

func getOrCreate[T any](
	ctx context.Context,
	r *Resolver,
	kind models.EntityKind,
	name string,
	find func(context.Context, string) ([]*T, error),
	idOf func(*T) string,
	create func(context.Context, string) (string, error),
) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &models.ValidationError{Field: string(kind) + " name", Reason: "must not be empty"}
	}
	op := "resolve " + string(kind)

	unlock := r.locks.Lock(string(kind) + "\x00" + name)
	defer unlock()

	lookup := func() (string, bool, error) {
		found, err := find(ctx, name)
		if err != nil {
			return "", false, translate(op, err)
		}
		if len(found) == 0 {
			return "", false, nil
		}
		if len(found) > 1 {
			r.logger.Warn("%d %ss named %q, using the oldest", len(found), kind, name)
		}
		return idOf(found[0]), true, nil
	}

	if id, ok, err := lookup(); err != nil || ok {
		return id, err
	}

	id, err := create(ctx, name)
	if errors.Is(err, storage.ErrDuplicate) {
		// Another process created it between our lookup and insert.
		id, ok, err := lookup()
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%s %q: duplicate reported but no match found", op, name)
		}
		return id, nil
	}
	if err != nil {
		return "", translate(op, err)
	}

	r.logger.Debug("created %s %s for %q", kind, id, name)
	return id, nil
}

func validateGeo(g models.Geo) error {
	if g.Latitude < -90 || g.Latitude > 90 {
		return &models.ValidationError{Field: "latitude", Reason: "must be within [-90, 90]"}
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		return &models.ValidationError{Field: "longitude", Reason: "must be within [-180, 180]"}
	}
	return nil
}
