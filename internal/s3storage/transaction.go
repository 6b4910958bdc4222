package s3storage

import (
	"context"
	"errors"
	"fmt"
)

// Transaction records every object copied into the permanent bucket so a
// failed transfer can remove them again. Staging objects are never touched.
type Transaction struct {
	store  *Storage
	copied []string
}

// Begin starts an object storage transaction.
func (s *Storage) Begin() *Transaction {
	return &Transaction{store: s}
}

// Copy copies one staging object into the permanent bucket.
func (t *Transaction) Copy(ctx context.Context, srcKey, destKey string) error {
	if err := t.store.CopyToPermanent(ctx, srcKey, destKey); err != nil {
		return err
	}
	t.copied = append(t.copied, destKey)
	return nil
}

// Size returns the size of a copied object.
func (t *Transaction) Size(ctx context.Context, destKey string) (int64, error) {
	return t.store.PermanentSize(ctx, destKey)
}

// Commit forgets the copied keys.
func (t *Transaction) Commit() {
	t.copied = nil
}

// Rollback removes every object copied so far. It keeps going after a failed
// removal and reports all of them.
func (t *Transaction) Rollback(ctx context.Context) error {
	var errs []error
	for _, key := range t.copied {
		if err := t.store.DeletePermanent(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", key, err))
		}
	}
	t.copied = nil
	return errors.Join(errs...)
}
