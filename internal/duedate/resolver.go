// Package duedate works out which deadline governs a user's submissions.
package duedate

import (
	"context"
	"fmt"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/store"
)

type Resolver struct {
	store store.ExtensionStore
}

func NewResolver(store store.ExtensionStore) *Resolver {
	return &Resolver{store: store}
}

// EffectiveDuedate returns the user's extension deadline when one is set and
// non-zero, otherwise the task deadline. Zero means no deadline.
func (r *Resolver) EffectiveDuedate(ctx context.Context, userID int64, task *models.Task) (int64, error) {
	ext, err := r.store.GetExtension(ctx, userID, task.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load extension for user %d task %d: %w", userID, task.ID, err)
	}
	if ext != nil && ext.Duedate != 0 {
		return ext.Duedate, nil
	}
	return task.Duedate, nil
}

// SetExtension creates or moves the user's extension. created reports
// whether a new row was made.
func (r *Resolver) SetExtension(ctx context.Context, userID, taskID, duedate int64) (ext *models.DuedateExtension, created bool, err error) {
	existing, err := r.store.GetExtension(ctx, userID, taskID)
	if err != nil {
		return nil, false, err
	}

	ext = &models.DuedateExtension{UserID: userID, TaskID: taskID, Duedate: duedate}
	if err := ext.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid extension: %w", err)
	}
	if existing != nil {
		ext.ID = existing.ID
	}

	if err := r.store.UpsertExtension(ctx, ext); err != nil {
		return nil, false, err
	}

	logger.Info.Printf("Extension for user %d task %d set to %d", userID, taskID, duedate)
	return ext, existing == nil, nil
}

// RevokeExtension removes the user's extension, reporting whether there was one.
func (r *Resolver) RevokeExtension(ctx context.Context, userID, taskID int64) (bool, error) {
	existing, err := r.store.GetExtension(ctx, userID, taskID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if err := r.store.DeleteExtension(ctx, existing.ID); err != nil {
		return false, err
	}
	logger.Info.Printf("Extension for user %d task %d revoked", userID, taskID)
	return true, nil
}

func (r *Resolver) ListExtensions(ctx context.Context, taskID int64) ([]models.DuedateExtension, error) {
	return r.store.ListTaskExtensions(ctx, taskID)
}
