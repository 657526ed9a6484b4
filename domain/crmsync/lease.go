package crmsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// ErrLeaseHeld is returned when another run holds the lease.
var ErrLeaseHeld = errors.New("sync lease held by another run")

// Lease is a held (organization, provider) run lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out run leases.
type Locker interface {
	Acquire(ctx context.Context, orgID string, provider records.Source) (Lease, error)
}

// LeaseManager implements Locker on crm.sync_leases. A lease expires after
// its TTL unless the holder keeps renewing it, so a crashed process cannot
// block an integration forever.
type LeaseManager struct {
	db  bun.IDB
	ttl time.Duration
	log *slog.Logger
}

var _ Locker = (*LeaseManager)(nil)

// NewLeaseManager creates a lease manager.
func NewLeaseManager(db bun.IDB, cfg *config.Config, log *slog.Logger) *LeaseManager {
	ttl := cfg.CRM.LeaseTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LeaseManager{
		db:  db,
		ttl: ttl,
		log: log.With(logger.Scope("crmsync.lease")),
	}
}

// Acquire takes the lease for (orgID, provider). An expired lease is taken
// over; a live one yields ErrLeaseHeld. The returned lease renews itself
// until released.
func (m *LeaseManager) Acquire(ctx context.Context, orgID string, provider records.Source) (Lease, error) {
	holder := uuid.NewString()

	var got string
	err := m.db.NewRaw(`
		INSERT INTO crm.sync_leases (organization_id, provider, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, now(), now() + make_interval(secs => ?))
		ON CONFLICT (organization_id, provider) DO UPDATE
			SET holder = EXCLUDED.holder,
				acquired_at = EXCLUDED.acquired_at,
				expires_at = EXCLUDED.expires_at
			WHERE crm.sync_leases.expires_at < now()
		RETURNING holder`,
		orgID, provider, holder, m.ttl.Seconds()).Scan(ctx, &got)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLeaseHeld
	}
	if err != nil {
		return nil, fmt.Errorf("acquire sync lease: %w", err)
	}

	l := &heldLease{
		m:        m,
		orgID:    orgID,
		provider: provider,
		holder:   holder,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.heartbeat()
	return l, nil
}

// CleanupExpired deletes leases past their expiry and returns how many
// were removed.
func (m *LeaseManager) CleanupExpired(ctx context.Context) (int, error) {
	res, err := m.db.NewRaw(`DELETE FROM crm.sync_leases WHERE expires_at < now()`).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup sync leases: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (m *LeaseManager) renew(ctx context.Context, l *heldLease) error {
	res, err := m.db.NewRaw(`
		UPDATE crm.sync_leases
		SET expires_at = now() + make_interval(secs => ?)
		WHERE organization_id = ? AND provider = ? AND holder = ?`,
		m.ttl.Seconds(), l.orgID, l.provider, l.holder).Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

func (m *LeaseManager) release(ctx context.Context, l *heldLease) error {
	_, err := m.db.NewRaw(`
		DELETE FROM crm.sync_leases
		WHERE organization_id = ? AND provider = ? AND holder = ?`,
		l.orgID, l.provider, l.holder).Exec(ctx)
	if err != nil {
		return fmt.Errorf("release sync lease: %w", err)
	}
	return nil
}

type heldLease struct {
	m        *LeaseManager
	orgID    string
	provider records.Source
	holder   string

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (l *heldLease) heartbeat() {
	defer close(l.done)

	ticker := time.NewTicker(l.m.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.m.ttl/3)
			err := l.m.renew(ctx, l)
			cancel()
			if err != nil {
				l.m.log.Warn("failed to renew sync lease",
					slog.String("organization_id", l.orgID),
					slog.String("provider", string(l.provider)),
					logger.Error(err))
			}
		}
	}
}

// Release stops the heartbeat and deletes the lease. It is safe to call
// more than once.
func (l *heldLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		err = l.m.release(ctx, l)
	})
	return err
}
