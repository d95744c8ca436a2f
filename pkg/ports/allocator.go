package ports

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/log"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// ErrPoolExhausted is returned when no port in the configured range is
// free. The caller must abort the whole operation without partial writes.
var ErrPoolExhausted = errors.New("port pool exhausted")

var (
	bucketTLS   = []byte("leases_tls")
	bucketPlain = []byte("leases_plain")
)

// RecordScanner supplies the current tenant records. The record store
// remains the source of truth; the lease table is reconciled against it
// on every acquisition.
type RecordScanner interface {
	List() ([]*types.TenantRecord, error)
}

// Allocator hands out host ports from the two configured ranges. All
// claims go through a BoltDB lease table: Bolt's exclusive file lock
// serializes allocations across processes, and the in-process mutex
// serializes goroutines. A Lease stays open for the duration of
// allocate-then-persist so a concurrent operation can never observe a
// half-claimed port.
type Allocator struct {
	cfg     config.Ports
	dbPath  string
	scanner RecordScanner
	logger  zerolog.Logger
	mu      sync.Mutex
}

// NewAllocator creates a port allocator.
func NewAllocator(cfg *config.Config, scanner RecordScanner) *Allocator {
	return &Allocator{
		cfg:     cfg.Ports,
		dbPath:  cfg.Paths.LeaseDB,
		scanner: scanner,
		logger:  log.WithComponent("ports"),
	}
}

// Lease is an open claim session on the port namespace. It must be closed
// by the caller once the updated tenant record has been persisted.
type Lease struct {
	a  *Allocator
	db *bolt.DB
}

// Begin acquires the port namespace. It blocks until any other holder,
// in this process or another, has released it, then reconciles the lease
// table against a fresh record scan: leases without a backing record are
// purged (a removed tenant frees its ports implicitly) and claimed slots
// are re-asserted.
func (a *Allocator) Begin() (*Lease, error) {
	a.mu.Lock()

	db, err := bolt.Open(a.dbPath, 0600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("failed to acquire port lease table: %w", err)
	}

	lease := &Lease{a: a, db: db}
	if err := lease.reconcile(); err != nil {
		lease.Close()
		return nil, err
	}
	return lease, nil
}

// Close releases the port namespace.
func (l *Lease) Close() {
	if l.db != nil {
		l.db.Close()
		l.db = nil
		l.a.mu.Unlock()
	}
}

// Allocate claims the lowest free port in the given space for owner.
func (l *Lease) Allocate(space types.PortSpace, owner string) (int, error) {
	start, end := l.a.rangeFor(space)
	return l.claim(space, owner, func(occupied map[int]bool) (int, error) {
		for port := start; port <= end; port++ {
			if !occupied[port] {
				return port, nil
			}
		}
		return 0, fmt.Errorf("%w: no free port in %s range [%d, %d]", ErrPoolExhausted, space, start, end)
	})
}

// AllocatePlaintextFor claims the plaintext port paired with a TLS port.
// The paired default is tlsPort + the configured offset; when another
// tenant already holds that port the allocator falls back to scanning the
// plaintext range instead.
func (l *Lease) AllocatePlaintextFor(tlsPort int, owner string) (int, error) {
	preferred := tlsPort + l.a.cfg.Offset
	port, err := l.claim(types.PortSpacePlaintext, owner, func(occupied map[int]bool) (int, error) {
		if !occupied[preferred] {
			return preferred, nil
		}
		return 0, nil
	})
	if err != nil {
		return 0, err
	}
	if port != 0 {
		return port, nil
	}

	l.a.logger.Debug().Int("preferred", preferred).Str("owner", owner).
		Msg("paired plaintext port occupied, scanning range")
	return l.Allocate(types.PortSpacePlaintext, owner)
}

// Release drops a lease for a port. Ports are also freed implicitly when
// the owning record disappears, so this is an optimization, not a
// correctness requirement.
func (l *Lease) Release(space types.PortSpace, port int) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFor(space)).Delete(portKey(port))
	})
}

// claim runs pick against the current occupied set and records the chosen
// port, all within one lease-table transaction.
func (l *Lease) claim(space types.PortSpace, owner string, pick func(map[int]bool) (int, error)) (int, error) {
	var chosen int
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFor(space))
		occupied := make(map[int]bool)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			occupied[int(binary.BigEndian.Uint32(k))] = true
		}

		port, err := pick(occupied)
		if err != nil {
			return err
		}
		if port == 0 {
			return nil
		}
		chosen = port
		return b.Put(portKey(port), []byte(owner))
	})
	if err != nil {
		return 0, err
	}
	if chosen != 0 {
		l.a.logger.Info().Str("space", string(space)).Int("port", chosen).Str("owner", owner).
			Msg("port allocated")
	}
	return chosen, nil
}

// reconcile rebuilds the lease table from a record scan. Any port slot a
// record still holds, active or stale, stays reserved; everything else is
// released.
func (l *Lease) reconcile() error {
	records, err := l.a.scanner.List()
	if err != nil {
		return fmt.Errorf("failed to scan tenant records: %w", err)
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTLS, bucketPlain} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}

		tls := tx.Bucket(bucketTLS)
		plain := tx.Bucket(bucketPlain)
		for _, rec := range records {
			if rec.PortTLS > 0 {
				if err := tls.Put(portKey(rec.PortTLS), []byte(rec.Name)); err != nil {
					return err
				}
			}
			if rec.PortPlain > 0 {
				if err := plain.Put(portKey(rec.PortPlain), []byte(rec.Name)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (a *Allocator) rangeFor(space types.PortSpace) (int, int) {
	if space == types.PortSpaceTLS {
		return a.cfg.TLSStart, a.cfg.TLSEnd
	}
	return a.cfg.PlainStart, a.cfg.PlainEnd
}

func bucketFor(space types.PortSpace) []byte {
	if space == types.PortSpaceTLS {
		return bucketTLS
	}
	return bucketPlain
}

func portKey(port int) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(port))
	return k
}
