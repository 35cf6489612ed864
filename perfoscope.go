// Package perfoscope is the public entry point: a mutex-guarded facade
// (New returns an independent instance on every call; there is no
// package-level singleton) that wires together profile negotiation, per-thread measurement,
// and the relational staging database behind the three-call lifecycle
// Init, AddRunData, and Finalize.
package perfoscope

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/anupzope-go/perfoscope/internal/collective"
	"github.com/anupzope-go/perfoscope/internal/collective/local"
	"github.com/anupzope-go/perfoscope/internal/config"
	"github.com/anupzope-go/perfoscope/internal/counters"
	"github.com/anupzope-go/perfoscope/internal/counters/noop"
	"github.com/anupzope-go/perfoscope/internal/counters/perfevent"
	"github.com/anupzope-go/perfoscope/internal/domain"
	"github.com/anupzope-go/perfoscope/internal/measurement"
	"github.com/anupzope-go/perfoscope/internal/store"
)

// lifecycle is the guarded singleton's own three-state machine, distinct
// from (and one level above) each thread's measurement.Phase.
type lifecycle int

const (
	lifecycleUninitialised lifecycle = iota
	lifecycleInitialised
	lifecycleFinalised
)

// newFacility selects the counter facility for cfg. It is a package var,
// in the teacher's swappable-loader style, so tests can substitute
// counters/mock without touching real perf_event file descriptors.
var newFacility = func(cfg config.Config) counters.Facility {
	if !cfg.HardwareCounters {
		return noop.New()
	}
	return perfevent.New()
}

// Perfoscope is the process-wide facade. One instance owns one profile's
// negotiated shape, staging database, and the set of per-thread
// measurement states created under it.
type Perfoscope struct {
	mu        sync.Mutex
	phase     lifecycle
	cfg       config.Config
	spec      domain.ProfileSpec
	facility  counters.Facility
	transport collective.Transport
	db        store.StagingDB
	profileID int64
	modified  bool
	logger    *slog.Logger

	threads map[int]*measurement.State
}

// New constructs an unready facade. Call Init before any other method.
func New() *Perfoscope {
	return &Perfoscope{
		logger:  slog.Default(),
		threads: make(map[int]*measurement.State),
	}
}

// Init validates cfg, negotiates the profile shape across transport (or
// runs single-rank if transport is nil), loads the staging database from
// cfg.DBPath if persistence is enabled, and registers the profile.
// transport may be nil; a nil transport degrades to local.New(), the
// single-rank no-op transport.
func (p *Perfoscope) Init(ctx context.Context, cfg config.Config, transport collective.Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != lifecycleUninitialised {
		return fmt.Errorf("%w: Init called twice", domain.ErrNotInitialised)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if transport == nil || !cfg.Collective {
		transport = local.New()
	}

	spec := domain.ProfileSpec{Name: cfg.Profile, Events: cfg.Events, Categories: cfg.Categories}
	if err := collective.Sync(transport, &spec, 0); err != nil {
		transport.Abort(1)
		return err
	}

	facility := newFacility(cfg)
	if err := facility.LibraryInit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEnvironmentUnavailable, err)
	}

	var db store.StagingDB
	if cfg.Persistence {
		sqlDB, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			return fmt.Errorf("%w: open staging db: %v", domain.ErrStoreIOError, err)
		}
		st, err := store.Open(sqlDB, true)
		if err != nil {
			return err
		}
		if _, statErr := os.Stat(cfg.DBPath); statErr == nil {
			if err := st.LoadFromFile(ctx, cfg.DBPath); err != nil {
				return err
			}
		}
		db = st
	}

	var profileID int64
	if db != nil {
		id, err := db.RegisterProfile(ctx, spec)
		if err != nil {
			return err
		}
		profileID = id
	}

	p.cfg = cfg
	p.spec = spec
	p.facility = facility
	p.transport = transport
	p.db = db
	p.profileID = profileID
	p.phase = lifecycleInitialised
	return nil
}

// Thread returns the measurement.State for threadID, creating and
// initializing one the first time it is requested. The caller must call
// this from the OS thread it names, since Init locks the facility's
// per-thread resources to the calling thread.
func (p *Perfoscope) Thread(threadID int) (*measurement.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != lifecycleInitialised {
		return nil, domain.ErrNotInitialised
	}
	if st, ok := p.threads[threadID]; ok {
		return st, nil
	}
	st, err := measurement.New(p.spec, threadID, p.facility)
	if err != nil {
		return nil, err
	}
	if err := st.Init(); err != nil {
		return nil, err
	}
	p.threads[threadID] = st
	return st, nil
}

// AddRunData creates a new run at problemSize (pass -1 if the caller has
// no meaningful problem size) and persists every registered thread's
// current accumulators into it. On every rank but the owner (rank 0),
// each category's counters and elapsed time are shipped to the owner over
// transport instead of written locally, mirroring the original library's
// MPI_Send/MPI_Recv handoff.
func (p *Perfoscope) AddRunData(ctx context.Context, problemSize int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != lifecycleInitialised {
		return domain.ErrNotInitialised
	}
	if p.db == nil {
		return nil
	}

	const ownerRank = 0
	rank := p.transport.Rank()

	if rank == ownerRank {
		run, err := p.db.CreateNewRun(ctx, p.profileID, problemSize)
		if err != nil {
			return err
		}
		if err := p.writeLocal(ctx, run); err != nil {
			return err
		}
		if err := p.receivePeers(ctx, run); err != nil {
			return err
		}
	} else {
		if err := p.sendToOwner(); err != nil {
			return err
		}
	}

	p.modified = true
	return nil
}

// sortedThreadIDs returns p.threads' keys in ascending order. Send and
// receive sides must walk threads (and, within a thread, categories) in
// the same deterministic order, since the wire format carries no
// explicit thread or category tag.
func (p *Perfoscope) sortedThreadIDs() []int {
	ids := make([]int, 0, len(p.threads))
	for id := range p.threads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (p *Perfoscope) writeLocal(ctx context.Context, run domain.Run) error {
	for _, threadID := range p.sortedThreadIDs() {
		for _, acc := range p.threads[threadID].Accumulators() {
			if err := p.insertAccumulator(ctx, run.ID, p.transport.Rank(), threadID, acc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Perfoscope) insertAccumulator(ctx context.Context, runID int64, rank, threadID int, acc domain.CategoryAccumulator) error {
	for i, name := range p.spec.Events {
		if err := p.db.InsertValue(ctx, runID, p.profileID, rank, threadID, acc.Name, name, domain.CounterValue(acc.CounterValues[i])); err != nil {
			return err
		}
	}
	if p.cfg.WallClock {
		if err := p.db.InsertValue(ctx, runID, p.profileID, rank, threadID, acc.Name, "time", domain.TimeValue(acc.RealTimeSeconds)); err != nil {
			return err
		}
	}
	return nil
}

// receivePeers receives every non-owner rank's serialized accumulator set
// and inserts it under their own rank number, tag 0 for the counter
// buffer and tag 1 for the wall-clock buffer per thread/category pair.
func (p *Perfoscope) receivePeers(ctx context.Context, run domain.Run) error {
	size := p.transport.Size()
	threadIDs := p.sortedThreadIDs()
	for peer := 1; peer < size; peer++ {
		for _, threadID := range threadIDs {
			for _, catName := range p.spec.Categories {
				counterBuf := make([]byte, 8*len(p.spec.Events))
				if err := p.transport.Recv(peer, 0, counterBuf); err != nil {
					return fmt.Errorf("%w: recv counters from rank %d: %v", domain.ErrStoreIOError, peer, err)
				}
				values := collective.DecodeCounters(counterBuf)
				for i, name := range p.spec.Events {
					if err := p.db.InsertValue(ctx, run.ID, p.profileID, peer, threadID, catName, name, domain.CounterValue(values[i])); err != nil {
						return err
					}
				}

				if p.cfg.WallClock {
					timeBuf := make([]byte, 8)
					if err := p.transport.Recv(peer, 1, timeBuf); err != nil {
						return fmt.Errorf("%w: recv time from rank %d: %v", domain.ErrStoreIOError, peer, err)
					}
					if err := p.db.InsertValue(ctx, run.ID, p.profileID, peer, threadID, catName, "time", domain.TimeValue(collective.DecodeTime(timeBuf))); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (p *Perfoscope) sendToOwner() error {
	const ownerRank = 0
	for _, threadID := range p.sortedThreadIDs() {
		for _, acc := range p.threads[threadID].Accumulators() {
			if err := p.transport.Send(ownerRank, 0, collective.EncodeCounters(acc.CounterValues)); err != nil {
				return fmt.Errorf("%w: send counters: %v", domain.ErrStoreIOError, err)
			}
			if p.cfg.WallClock {
				if err := p.transport.Send(ownerRank, 1, collective.EncodeTime(acc.RealTimeSeconds)); err != nil {
					return fmt.Errorf("%w: send time: %v", domain.ErrStoreIOError, err)
				}
			}
		}
	}
	return nil
}

// Finalize tears down every thread's measurement state, stores the
// staging database back to cfg.DBPath if it was modified, and moves the
// facade to its terminal state. A store failure at this point is
// non-fatal: it is reported on stderr in the original library's literal
// diagnostic format rather than returned, since by the time Finalize
// runs there is rarely a meaningful way to recover.
func (p *Perfoscope) Finalize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == lifecycleFinalised {
		return domain.ErrAlreadyFinalised
	}
	if p.phase != lifecycleInitialised {
		return domain.ErrNotInitialised
	}

	for _, st := range p.threads {
		if err := st.Destroy(); err != nil {
			p.logger.Error("thread teardown failed", "err", err)
		}
	}

	if p.db != nil {
		if p.modified && p.cfg.Persistence && p.transport.Rank() == 0 {
			if err := p.db.StoreToFile(ctx, p.cfg.DBPath); err != nil {
				diagnostic("perfoscope.go", 0, err.Error())
			}
		}
		if err := p.db.Close(); err != nil {
			p.logger.Error("staging db close failed", "err", err)
		}
	}

	p.phase = lifecycleFinalised
	return nil
}

// diagnostic writes the original library's literal non-fatal error line
// format directly to stderr, bypassing structured logging, since this is
// the one path the original program never routed through its normal
// logging facility either.
func diagnostic(file string, line int, message string) {
	fmt.Fprintf(os.Stderr, "Perfoscope error (%s, %d): %s\n", file, line, message)
}
