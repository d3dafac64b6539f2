// Package relations keeps both sides of a denormalized relationship
// consistent. The source record's own field is written by its repository;
// Sync then rewrites the back-references on the target collection (and,
// for many-to-one, on the other source records).
//
// Sync must be called after the source write succeeded and with the same
// session context, so that both sides commit or abort together.
package relations

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Cardinality describes the shape of the source field and the target field.
type Cardinality int

const (
	// ManyToOne: the source holds a set of target ids; each target holds
	// one back-reference to the source (or null).
	ManyToOne Cardinality = iota + 1
	// OneToMany: the source holds at most one target id; the target holds
	// a set of source ids.
	OneToMany
	// ManyToMany: both sides hold sets of ids.
	ManyToMany
)

func (c Cardinality) String() string {
	switch c {
	case ManyToOne:
		return "many-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToMany:
		return "many-to-many"
	}
	return fmt.Sprintf("cardinality(%d)", int(c))
}

// Descriptor declares one two-way relation.
type Descriptor struct {
	SourceCollection string
	SourceField      string
	Cardinality      Cardinality
	TargetCollection string
	TargetField      string
}

var errInvalid = errors.New("relations: invalid descriptor")

// Validate reports whether every part of the descriptor is set.
func (d Descriptor) Validate() error {
	switch {
	case d.SourceCollection == "", d.SourceField == "":
		return fmt.Errorf("%w: source collection and field are required", errInvalid)
	case d.TargetCollection == "", d.TargetField == "":
		return fmt.Errorf("%w: target collection and field are required", errInvalid)
	}
	switch d.Cardinality {
	case ManyToOne, OneToMany, ManyToMany:
		return nil
	}
	return fmt.Errorf("%w: unknown cardinality %d", errInvalid, int(d.Cardinality))
}

// Sync brings the reverse side of d in line with the source record's
// current reference set targetIDs.
func Sync(ctx context.Context, db *mongo.Database, d Descriptor, sourceID primitive.ObjectID, targetIDs []primitive.ObjectID) error {
	if err := d.Validate(); err != nil {
		return err
	}
	ids := dedupe(targetIDs)

	switch d.Cardinality {
	case ManyToOne:
		return syncManyToOne(ctx, db, d, sourceID, ids)
	case OneToMany:
		if len(ids) > 1 {
			return fmt.Errorf("%w: one-to-many source %s references %d targets", errInvalid, d.SourceField, len(ids))
		}
		return syncOneToMany(ctx, db, d, sourceID, ids)
	default:
		return syncManyToMany(ctx, db, d, sourceID, ids)
	}
}

func syncManyToOne(ctx context.Context, db *mongo.Database, d Descriptor, sourceID primitive.ObjectID, ids []primitive.ObjectID) error {
	src := db.Collection(d.SourceCollection)
	tgt := db.Collection(d.TargetCollection)

	// 1) A target belongs to one source: take it away from every other source.
	if len(ids) > 0 {
		if _, err := src.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$ne": sourceID}, d.SourceField: bson.M{"$in": ids}},
			bson.M{"$pull": bson.M{d.SourceField: bson.M{"$in": ids}}},
		); err != nil {
			return fmt.Errorf("relations: release %s.%s: %w", d.SourceCollection, d.SourceField, err)
		}
	}

	// 2) Point every referenced target at this source.
	if _, err := tgt.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{d.TargetField: sourceID}},
	); err != nil {
		return fmt.Errorf("relations: set %s.%s: %w", d.TargetCollection, d.TargetField, err)
	}

	// 3) Targets no longer referenced lose their back-reference.
	if _, err := tgt.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$nin": ids}, d.TargetField: sourceID},
		bson.M{"$set": bson.M{d.TargetField: nil}},
	); err != nil {
		return fmt.Errorf("relations: clear %s.%s: %w", d.TargetCollection, d.TargetField, err)
	}
	return nil
}

func syncOneToMany(ctx context.Context, db *mongo.Database, d Descriptor, sourceID primitive.ObjectID, ids []primitive.ObjectID) error {
	tgt := db.Collection(d.TargetCollection)

	if len(ids) == 1 {
		if _, err := tgt.UpdateOne(ctx,
			bson.M{"_id": ids[0]},
			bson.M{"$addToSet": bson.M{d.TargetField: sourceID}},
		); err != nil {
			return fmt.Errorf("relations: add to %s.%s: %w", d.TargetCollection, d.TargetField, err)
		}
	}

	if _, err := tgt.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$nin": ids}, d.TargetField: sourceID},
		bson.M{"$pull": bson.M{d.TargetField: sourceID}},
	); err != nil {
		return fmt.Errorf("relations: pull from %s.%s: %w", d.TargetCollection, d.TargetField, err)
	}
	return nil
}

func syncManyToMany(ctx context.Context, db *mongo.Database, d Descriptor, sourceID primitive.ObjectID, ids []primitive.ObjectID) error {
	tgt := db.Collection(d.TargetCollection)

	if len(ids) > 0 {
		if _, err := tgt.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": ids}},
			bson.M{"$addToSet": bson.M{d.TargetField: sourceID}},
		); err != nil {
			return fmt.Errorf("relations: add to %s.%s: %w", d.TargetCollection, d.TargetField, err)
		}
	}

	if _, err := tgt.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$nin": ids}, d.TargetField: sourceID},
		bson.M{"$pull": bson.M{d.TargetField: sourceID}},
	); err != nil {
		return fmt.Errorf("relations: pull from %s.%s: %w", d.TargetCollection, d.TargetField, err)
	}
	return nil
}

// Destroy severs every back-reference to a deleted source record.
func Destroy(ctx context.Context, db *mongo.Database, d Descriptor, sourceID primitive.ObjectID) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Cardinality == ManyToOne {
		return DestroyRelationToOne(ctx, db, d.TargetCollection, d.TargetField, sourceID)
	}
	return DestroyRelationToMany(ctx, db, d.TargetCollection, d.TargetField, sourceID)
}

// DestroyRelationToMany removes id from the array field of every document in collection.
func DestroyRelationToMany(ctx context.Context, db *mongo.Database, collection, field string, id primitive.ObjectID) error {
	if _, err := db.Collection(collection).UpdateMany(ctx,
		bson.M{field: id},
		bson.M{"$pull": bson.M{field: id}},
	); err != nil {
		return fmt.Errorf("relations: pull %s.%s: %w", collection, field, err)
	}
	return nil
}

// DestroyRelationToOne nulls field on every document in collection that points at id.
func DestroyRelationToOne(ctx context.Context, db *mongo.Database, collection, field string, id primitive.ObjectID) error {
	if _, err := db.Collection(collection).UpdateMany(ctx,
		bson.M{field: id},
		bson.M{"$set": bson.M{field: nil}},
	); err != nil {
		return fmt.Errorf("relations: clear %s.%s: %w", collection, field, err)
	}
	return nil
}

// dedupe returns ids without duplicates or zero ids, never nil.
func dedupe(ids []primitive.ObjectID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
