package store

import (
	"time"
)

// Drain exclusion across processes (daemon vs one-shot CLI sync) uses a
// TTL lease row. A single upsert statement either claims the lease or
// leaves it with its current holder, so no extra locking is needed.

// AcquireLease tries to claim the named lease for owner until now+ttl.
// It succeeds when the lease is free, expired, or already held by the
// same owner (renewal). Returns true when the lease was claimed.
func (s *Store) AcquireLease(name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	expires := now + int64(ttl.Seconds())

	res, err := s.db.Exec(`
		INSERT INTO leases (name, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.expires_at < ? OR leases.owner = excluded.owner
	`, name, owner, expires, now)
	if err != nil {
		return false, storageErr("acquire lease", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("acquire lease result", err)
	}
	return n > 0, nil
}

// ReleaseLease frees the named lease if owner still holds it.
func (s *Store) ReleaseLease(name, owner string) error {
	if _, err := s.db.Exec(`
		DELETE FROM leases WHERE name = ? AND owner = ?
	`, name, owner); err != nil {
		return storageErr("release lease", err)
	}
	return nil
}
