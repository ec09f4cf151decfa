package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/hooks"
	"github.com/artpar/entitygate/core/mode"
	"github.com/artpar/entitygate/core/objectid"
	"github.com/artpar/entitygate/core/registry"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// cascadeStep is one set of dependents removed after the primary delete.
type cascadeStep struct {
	collection string
	via        string
	ids        []bson.ObjectID
}

// deletePlan is every record a delete will remove, keyed by collection.
type deletePlan struct {
	steps   []cascadeStep
	planned map[string]map[bson.ObjectID]bool
}

func (p *deletePlan) add(collection string, ids []bson.ObjectID) []bson.ObjectID {
	set, ok := p.planned[collection]
	if !ok {
		set = make(map[bson.ObjectID]bool)
		p.planned[collection] = set
	}
	var fresh []bson.ObjectID
	for _, id := range ids {
		if !set[id] {
			set[id] = true
			fresh = append(fresh, id)
		}
	}
	return fresh
}

func (p *deletePlan) ids(collection string) []bson.ObjectID {
	set := p.planned[collection]
	out := make([]bson.ObjectID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Delete removes records by raw id and returns how many primary records were
// removed. More than one id also requires batch mode.
//
// Dependents reachable through cascade fields are removed after the primary
// delete. A referencing field without a delete policy that still has
// dependents outside the plan rejects the whole delete with HAS_REF before
// anything is written. Keep fields are ignored.
func (s *Service) Delete(ctx context.Context, collection string, rawIDs []string, opts Options) (n int64, err error) {
	defer s.finish(ctx, collection, OpDelete, time.Now(), &err)

	ops := []mode.Op{mode.Delete}
	if len(rawIDs) > 1 {
		ops = append(ops, mode.Batch)
	}
	a, err := s.authorize(ctx, collection, opts, ops...)
	if err != nil {
		return 0, err
	}
	meta := a.meta
	if len(rawIDs) == 0 {
		return 0, apierr.New(apierr.NoParams, "no ids to delete")
	}

	ids, err := s.guard.ToIDs(rawIDs)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, apierr.Newf(apierr.NotFound, "no %s matches the given ids", meta.Name)
	}

	records, err := s.store.Find(ctx, meta.Name, objectid.InQuery(ids), storage.FindOptions{})
	if err != nil {
		return 0, storageError(err, "delete "+meta.Name)
	}
	if len(records) == 0 {
		return 0, apierr.Newf(apierr.NotFound, "no %s matches the given ids", meta.Name)
	}
	ids = ids[:0]
	kept := records[:0]
	for _, rec := range records {
		id, ok := rec[storage.IDField].(bson.ObjectID)
		if !ok {
			continue
		}
		ids = append(ids, id)
		kept = append(kept, rec)
	}
	records = kept
	if len(ids) == 0 {
		return 0, apierr.Newf(apierr.NotFound, "no %s matches the given ids", meta.Name)
	}

	hc := hooks.NewDeleteContext(meta.Name, a.caller, s.store, ids)
	hc.Records = records
	if err := hooks.Run(ctx, meta.Hooks.BeforeDelete, hc); err != nil {
		return 0, s.hookFailed(meta.Name, schema.StageBeforeDelete, err)
	}

	plan, err := s.planCascade(ctx, meta.Name, ids)
	if err != nil {
		return 0, err
	}
	if err := s.checkDependents(ctx, plan); err != nil {
		return 0, err
	}

	n, err = s.store.Delete(ctx, meta.Name, objectid.InQuery(ids))
	if err != nil {
		return 0, storageError(err, "delete "+meta.Name)
	}

	var failed int
	for _, step := range plan.steps {
		removed, err := s.store.Delete(ctx, step.collection, objectid.InQuery(step.ids))
		if err != nil {
			failed++
			s.logger.Error().
				Err(err).
				Str("collection", step.collection).
				Str("via", step.via).
				Int("ids", len(step.ids)).
				Msg("cascade delete failed")
			continue
		}
		s.logger.Debug().
			Str("collection", step.collection).
			Str("via", step.via).
			Int64("removed", removed).
			Msg("cascade delete")
	}

	if err := hooks.Run(ctx, meta.Hooks.AfterDelete, hc); err != nil {
		return n, s.hookFailed(meta.Name, schema.StageAfterDelete, err)
	}
	if failed > 0 {
		return n, apierr.Wrap(fmt.Errorf("%d cascade steps failed", failed), "delete "+meta.Name)
	}
	return n, nil
}

// planCascade walks cascade fields breadth first from the root records.
// Records already planned are not visited twice, so reference cycles end.
func (s *Service) planCascade(ctx context.Context, root string, ids []bson.ObjectID) (*deletePlan, error) {
	plan := &deletePlan{planned: make(map[string]map[bson.ObjectID]bool)}
	plan.add(root, ids)

	queue := []cascadeStep{{collection: root, ids: ids}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, ref := range s.registry.Referrers(cur.collection) {
			if ref.Delete != schema.DeleteCascade {
				continue
			}
			deps, err := s.store.Find(ctx, ref.Collection, storage.Filter{
				ref.Field: storage.Filter{"$in": cur.ids},
			}, storage.FindOptions{Projection: []string{}})
			if err != nil {
				return nil, storageError(err, "plan cascade "+ref.Collection)
			}
			depIDs := make([]bson.ObjectID, 0, len(deps))
			for _, d := range deps {
				if id, ok := d[storage.IDField].(bson.ObjectID); ok {
					depIDs = append(depIDs, id)
				}
			}
			fresh := plan.add(ref.Collection, depIDs)
			if len(fresh) == 0 {
				continue
			}
			step := cascadeStep{collection: ref.Collection, via: ref.Field, ids: fresh}
			plan.steps = append(plan.steps, step)
			queue = append(queue, step)
		}
	}
	return plan, nil
}

// checkDependents rejects the plan when a referencing field without a delete
// policy points at a planned record from a record that is not itself planned.
func (s *Service) checkDependents(ctx context.Context, plan *deletePlan) error {
	for target := range plan.planned {
		targetIDs := plan.ids(target)
		for _, ref := range s.registry.Referrers(target) {
			if ref.Delete != schema.DeleteUnset {
				continue
			}
			if err := s.checkReferrer(ctx, plan, ref, target, targetIDs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) checkReferrer(ctx context.Context, plan *deletePlan, ref registry.Referrer, target string, targetIDs []bson.ObjectID) error {
	f := storage.Filter{ref.Field: storage.Filter{"$in": targetIDs}}
	if doomed := plan.ids(ref.Collection); len(doomed) > 0 {
		f[storage.IDField] = storage.Filter{"$nin": doomed}
	}
	n, err := s.store.Count(ctx, ref.Collection, f)
	if err != nil {
		return storageError(err, "check dependents "+ref.Collection)
	}
	if n > 0 {
		return apierr.Newf(apierr.HasRef, "%d %s records still reference %s through %q", n, ref.Collection, target, ref.Field)
	}
	return nil
}
