package keystore

import (
	"context"
	"fmt"
	"time"
)

// FindIndexRow returns the index row for alias, or nil when none exists.
func (s *Service) FindIndexRow(ctx context.Context, alias, containerID string) (*IndexRow, error) {
	if alias == "" {
		return nil, &ValidationError{Field: "alias"}
	}
	if containerID == "" {
		return nil, &ValidationError{Field: "containerID"}
	}
	return s.repo.FindIndexRow(ctx, containerID, alias)
}

// ListIndexRows returns every index row of a container in alias order.
func (s *Service) ListIndexRows(ctx context.Context, containerID string) ([]*IndexRow, error) {
	if containerID == "" {
		return nil, &ValidationError{Field: "containerID"}
	}
	return s.repo.ListIndexRows(ctx, containerID)
}

// SearchIndex filters index rows across containers without decoding any
// blob.
func (s *Service) SearchIndex(ctx context.Context, q IndexQuery) ([]*IndexRow, error) {
	if q.Status != "" {
		st, err := normalizeStatus(q.Status)
		if err != nil {
			return nil, err
		}
		q.Status = st
	}
	return s.repo.SearchIndexRows(ctx, q)
}

// ReindexResult summarizes a Reindex run.
type ReindexResult struct {
	Added   int
	Updated int
	Removed int
}

// Reindex rebuilds the index rows of a container from its blob. Rows for
// aliases missing from the index are added with StatusUnknown, rows without
// a matching entry are deleted, and existing rows keep their status and
// validated flag while their certificate metadata is refreshed. The
// container version is not changed.
func (s *Service) Reindex(ctx context.Context, containerID string) (ReindexResult, error) {
	var res ReindexResult
	if containerID == "" {
		return res, &ValidationError{Field: "containerID"}
	}

	err := s.mutate(ctx, OpReindex, containerID, func() (bool, error) {
		sess, err := s.open(ctx, OpReindex, "", containerID)
		if err != nil {
			return false, err
		}
		sess.close()

		fresh := make(map[string]*IndexRow, sess.entries.Len())
		for _, alias := range sess.entries.Aliases() {
			e := sess.entries.Get(alias)
			meta, err := s.extractor.Extract(e.Certificate)
			if err != nil {
				return false, fmt.Errorf("extracting metadata for alias %q: %w", alias, err)
			}
			fresh[alias] = s.indexRow(containerID, alias, meta, e.IsKeyEntry(), StatusUnknown, false)
		}

		// The diff is computed and applied against the stored version the
		// blob was decoded from.
		err = s.repo.InTx(ctx, func(tx Repository) error {
			res = ReindexResult{}
			stored, err := tx.GetContainer(ctx, containerID)
			if err != nil {
				return fmt.Errorf("loading container: %w", err)
			}
			if stored.Version != sess.container.Version {
				return fmt.Errorf("%w: container %s is at version %d, decoded %d",
					ErrVersionConflict, containerID, stored.Version, sess.container.Version)
			}
			existing, err := tx.ListIndexRows(ctx, containerID)
			if err != nil {
				return fmt.Errorf("listing index rows: %w", err)
			}
			matched := make(map[string]bool, len(existing))
			for _, old := range existing {
				row, ok := fresh[old.Alias]
				if !ok {
					if err := tx.DeleteIndexRow(ctx, containerID, old.Alias); err != nil {
						return fmt.Errorf("deleting index row %q: %w", old.Alias, err)
					}
					res.Removed++
					continue
				}
				row.Status, row.Validated = old.Status, old.Validated
				matched[old.Alias] = true
				if sameMetadata(old, row) {
					continue
				}
				if err := tx.UpsertIndexRow(ctx, row); err != nil {
					return fmt.Errorf("upserting index row %q: %w", row.Alias, err)
				}
				res.Updated++
			}
			for _, alias := range sess.entries.Aliases() {
				if matched[alias] {
					continue
				}
				if err := tx.UpsertIndexRow(ctx, fresh[alias]); err != nil {
					return fmt.Errorf("upserting index row %q: %w", alias, err)
				}
				res.Added++
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("reindexing container %s: %w", containerID, err)
		}
		if res == (ReindexResult{}) {
			return false, nil
		}
		s.logger.Info("container reindexed", "container", containerID, "added", res.Added, "updated", res.Updated, "removed", res.Removed)
		return true, nil
	})
	if err != nil {
		return ReindexResult{}, err
	}
	return res, nil
}

func sameMetadata(a, b *IndexRow) bool {
	return a.Subject == b.Subject &&
		a.Issuer == b.Issuer &&
		a.Country == b.Country &&
		a.HasPrivateKey == b.HasPrivateKey &&
		a.Fingerprint == b.Fingerprint &&
		a.NotAfter.Truncate(time.Second).Equal(b.NotAfter.Truncate(time.Second))
}
