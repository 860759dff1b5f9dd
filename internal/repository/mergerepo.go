package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

// MergeReport summarizes what a user merge moved.
type MergeReport struct {
	EventsMoved     int64
	CalendarsMoved  int64
	IdentitiesMoved int64
	MappingMoved    bool
}

// Merger folds a duplicate account into a surviving one inside a single
// transaction: owned resources are reassigned, provider identities and the
// user mapping migrate to the survivor, and the duplicate is deleted.
// A populated federation key on both sides that disagrees aborts the whole
// merge with errs.ErrFederationConflict.
type Merger interface {
	MergeUsers(ctx context.Context, survivorID, duplicateID uuid.UUID) (MergeReport, error)
}
