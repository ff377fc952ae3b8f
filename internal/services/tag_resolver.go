package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hazine/internal/core"
	"hazine/internal/log"
	"hazine/internal/storage"
)

// TagResolver finds tags by name and creates them on first use.
type TagResolver struct {
	store  storage.Store
	now    func() time.Time
	logger *log.Logger
}

func NewTagResolver(store storage.Store, logger *log.Logger) *TagResolver {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &TagResolver{
		store:  store,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentTag),
	}
}

// Resolve returns the tag named name, matched case-insensitively after
// trimming. created reports whether this call inserted it. When two callers
// race to create the same name both get the same row and only one sees
// created.
func (r *TagResolver) Resolve(ctx context.Context, name string) (core.Tag, bool, error) {
	name, err := core.NormalizeTagName(name)
	if err != nil {
		return core.Tag{}, false, err
	}

	tag, err := r.store.FindTagByName(ctx, name)
	if err == nil {
		return tag, false, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Tag{}, false, fmt.Errorf("find tag %q: %w", name, err)
	}

	tag, created, err := r.store.InsertTag(ctx, name, r.now().UTC())
	if err != nil {
		return core.Tag{}, false, fmt.Errorf("insert tag %q: %w", name, err)
	}
	if created {
		r.logger.InfoContext(ctx, "Tag created", log.FieldTagName, tag.Name, "tag_id", tag.ID)
	}
	return tag, created, nil
}

func (r *TagResolver) List(ctx context.Context) ([]core.Tag, error) {
	tags, err := r.store.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}
