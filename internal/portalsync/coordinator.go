// Package portalsync keeps the in-memory record cache consistent with the
// externally editable tabular files, in both directions, and feeds change
// notifications to the broadcast hub.
package portalsync

import (
	"sync"
	"time"

	"github.com/carebridge/portal/internal/broadcast"
	"github.com/carebridge/portal/internal/tabular"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Store is the record-store surface the coordinator needs. Satisfied by
// *tabular.Store; fakes implement it in tests.
type Store interface {
	LoadAll() tabular.Snapshots
	Upsert(kind tabular.Kind, record tabular.Record) tabular.UpsertResult
	AppendStatusUpdate(update tabular.StatusUpdate) (tabular.StatusUpdate, error)
	BackupRotate(keep int) (int, error)
}

const (
	DefaultCooldown     = 3 * time.Second
	DefaultRequeueDelay = 1 * time.Second

	// ManualSyncChangeID tags passes triggered by ForceFullSync rather than
	// an observed file change.
	ManualSyncChangeID = "manual_full_sync"
)

type Options struct {
	Store        Store
	Hub          *broadcast.Hub
	Journal      Journal
	Cooldown     time.Duration
	RequeueDelay time.Duration
	Logger       Logger
}

// Status is a read-only view of the coordinator. Building it has no side
// effects.
type Status struct {
	SyncInProgress bool                 `json:"syncInProgress"`
	PendingChanges int                  `json:"pendingChanges"`
	LastSyncTime   string               `json:"lastSyncTime,omitempty"`
	RecordCounts   map[tabular.Kind]int `json:"recordCounts"`
}

// Coordinator serializes every synchronization pass, in either direction,
// through a single exclusion token. Change notifications arriving while a
// pass is in flight are coalesced by change id and replayed oldest-first
// once the pass completes; they are never dropped and never run
// concurrently.
type Coordinator struct {
	store        Store
	hub          *broadcast.Hub
	journal      Journal
	logger       Logger
	cooldown     time.Duration
	requeueDelay time.Duration

	// slot is the single mutual-exclusion token shared by both sync
	// directions. Holding the token is what "a sync pass is active" means.
	slot chan struct{}

	mu            sync.Mutex
	active        bool
	lastSync      time.Time
	lastBroadcast time.Time
	pending       map[string]tabular.Snapshots
	pendingOrder  []string

	// prev is the deep, independent copy of the last reconciled snapshots.
	// Only a goroutine holding the slot token may touch it.
	prev tabular.Snapshots

	cacheMu sync.RWMutex
	cache   tabular.Snapshots

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewCoordinator(opts Options) *Coordinator {
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	requeueDelay := opts.RequeueDelay
	if requeueDelay <= 0 {
		requeueDelay = DefaultRequeueDelay
	}
	c := &Coordinator{
		store:        opts.Store,
		hub:          opts.Hub,
		journal:      opts.Journal,
		logger:       opts.Logger,
		cooldown:     cooldown,
		requeueDelay: requeueDelay,
		slot:         make(chan struct{}, 1),
		pending:      map[string]tabular.Snapshots{},
		closed:       make(chan struct{}),
	}
	initial := opts.Store.LoadAll()
	c.prev = tabular.CloneSnapshots(initial)
	c.cache = tabular.CloneSnapshots(initial)
	c.logf("[SYNC] coordinator initialized, cached %d kinds", len(initial))
	return c
}

// SyncFromStore reconciles freshly reloaded snapshots against the previous
// snapshot. If a pass is already active the change is queued, coalesced by
// change id (a later snapshot for the same id overwrites the queued one),
// and the call returns immediately.
func (c *Coordinator) SyncFromStore(changeID string, fresh tabular.Snapshots) {
	select {
	case <-c.closed:
		return
	default:
	}
	// The token attempt and the fallback enqueue happen under c.mu so that
	// finishPass, which releases the token and claims queued changes under
	// the same lock, can never miss an entry queued against a finishing
	// pass.
	c.mu.Lock()
	select {
	case c.slot <- struct{}{}:
		c.active = true
		c.mu.Unlock()
	default:
		if _, queued := c.pending[changeID]; !queued {
			c.pendingOrder = append(c.pendingOrder, changeID)
		}
		c.pending[changeID] = fresh
		c.mu.Unlock()
		c.logf("[SYNC] pass in progress, queued change %s", changeID)
		return
	}
	defer c.finishPass()
	c.runFromStorePass(changeID, fresh)
}

func (c *Coordinator) runFromStorePass(changeID string, fresh tabular.Snapshots) {
	result := DiffSnapshots(c.prev, fresh)
	if !HasSignificantChange(result) {
		c.logf("[SYNC] no significant changes for %s", changeID)
		return
	}

	c.cacheMu.Lock()
	c.cache = tabular.CloneSnapshots(fresh)
	c.cacheMu.Unlock()
	c.prev = tabular.CloneSnapshots(fresh)

	summary := summarize(result)
	c.maybeBroadcast(broadcast.Event{
		Type:      broadcast.EventDataChanged,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ChangeID:  changeID,
		Direction: "excel-to-portal",
		Changes:   summary,
	})
	c.appendJournal(JournalEntry{
		Direction: "excel-to-portal",
		ChangeID:  changeID,
		Added:     totalCounts(summary.Counts, func(d diffCounts) int { return d.Added }),
		Modified:  totalCounts(summary.Counts, func(d diffCounts) int { return d.Modified }),
		Deleted:   totalCounts(summary.Counts, func(d diffCounts) int { return d.Deleted }),
	})
	for kind, counts := range summary.Counts {
		c.logf("[SYNC] %s: +%d ~%d -%d", kind, counts.Added, counts.Modified, counts.Deleted)
	}
}

// SyncToStore validates and persists an application-originated write, then
// updates the cache for that record. It waits for the exclusion token, so a
// write issued mid-reload runs after the reload pass, never alongside it.
// Failures are returned as a structured result and surfaced as a sync-error
// event; nothing is thrown.
func (c *Coordinator) SyncToStore(kind tabular.Kind, record tabular.Record, operation string) tabular.UpsertResult {
	select {
	case <-c.closed:
		return tabular.UpsertResult{Errors: []string{"coordinator is shut down"}}
	default:
	}
	select {
	case c.slot <- struct{}{}:
	case <-c.closed:
		return tabular.UpsertResult{Errors: []string{"coordinator is shut down"}}
	}
	c.setActive(true)
	defer c.finishPass()

	result := c.store.Upsert(kind, record)
	if !result.Success {
		c.publishSyncError(joinErrors(result.Errors), "portal-to-excel", string(kind))
		c.appendJournal(JournalEntry{
			Direction: "portal-to-excel",
			DataType:  string(kind),
			Operation: operation,
			Error:     joinErrors(result.Errors),
		})
		return result
	}

	c.upsertCache(kind, result.Record)
	if kind == tabular.KindDonation {
		if donation, ok := result.Record.(tabular.Donation); ok && donation.Status == "completed" {
			c.recomputeStoryAggregates(donation.StoryID)
		}
	}

	c.maybeBroadcast(broadcast.Event{
		Type:      broadcast.EventDataSaved,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Direction: "portal-to-excel",
		DataType:  string(kind),
		Operation: operation,
		Record:    result.Record,
	})
	c.appendJournal(JournalEntry{
		Direction: "portal-to-excel",
		DataType:  string(kind),
		Operation: operation,
		Modified:  1,
	})
	c.logf("[SYNC] saved %s %s (%s)", kind, result.Record.RecordID(), operation)
	return result
}

// AppendStatusUpdate writes an audit row through the same exclusion token.
// The row is append-only; ids and timestamps are store-assigned.
func (c *Coordinator) AppendStatusUpdate(update tabular.StatusUpdate) tabular.UpsertResult {
	if errs := tabular.ValidateRecord(update); len(errs) > 0 {
		return tabular.UpsertResult{Errors: errs}
	}
	select {
	case <-c.closed:
		return tabular.UpsertResult{Errors: []string{"coordinator is shut down"}}
	default:
	}
	select {
	case c.slot <- struct{}{}:
	case <-c.closed:
		return tabular.UpsertResult{Errors: []string{"coordinator is shut down"}}
	}
	c.setActive(true)
	defer c.finishPass()

	saved, err := c.store.AppendStatusUpdate(update)
	if err != nil {
		c.publishSyncError(err.Error(), "portal-to-excel", string(tabular.KindStatusUpdate))
		c.appendJournal(JournalEntry{
			Direction: "portal-to-excel",
			DataType:  string(tabular.KindStatusUpdate),
			Operation: "append",
			Error:     err.Error(),
		})
		return tabular.UpsertResult{Errors: []string{"Failed to write status update"}}
	}

	c.cacheMu.Lock()
	c.cache[tabular.KindStatusUpdate] = append(c.cache[tabular.KindStatusUpdate], saved)
	c.cacheMu.Unlock()

	c.maybeBroadcast(broadcast.Event{
		Type:      broadcast.EventDataSaved,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Direction: "portal-to-excel",
		DataType:  string(tabular.KindStatusUpdate),
		Operation: "append",
		Record:    saved,
	})
	c.appendJournal(JournalEntry{
		Direction: "portal-to-excel",
		DataType:  string(tabular.KindStatusUpdate),
		Operation: "append",
		Added:     1,
	})
	return tabular.UpsertResult{Success: true, Record: saved}
}

// ForceFullSync reads the store directly, bypassing the watcher, and runs a
// reconciliation pass under the synthetic manual change id.
func (c *Coordinator) ForceFullSync() string {
	c.logf("[SYNC] forcing full synchronization")
	fresh := c.store.LoadAll()
	c.SyncFromStore(ManualSyncChangeID, fresh)
	return ManualSyncChangeID
}

// Snapshot returns a deep copy of the cached records for one entity kind.
// Callers can never mutate the cache or the previous snapshot through the
// returned slice.
func (c *Coordinator) Snapshot(kind tabular.Kind) []tabular.Record {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	records := c.cache[kind]
	out := make([]tabular.Record, len(records))
	for i, record := range records {
		out[i] = record.Clone()
	}
	return out
}

func (c *Coordinator) Status() Status {
	counts := make(map[tabular.Kind]int, len(tabular.Kinds()))
	c.cacheMu.RLock()
	for _, kind := range tabular.Kinds() {
		counts[kind] = len(c.cache[kind])
	}
	c.cacheMu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	status := Status{
		SyncInProgress: c.active,
		PendingChanges: len(c.pendingOrder),
		RecordCounts:   counts,
	}
	if !c.lastSync.IsZero() {
		status.LastSyncTime = c.lastSync.UTC().Format(time.RFC3339Nano)
	}
	return status
}

// CleanupBackups rotates backup files, keeping the most recent keep per
// entity.
func (c *Coordinator) CleanupBackups(keep int) (int, error) {
	return c.store.BackupRotate(keep)
}

// RecentJournal returns the newest journal entries, or nil when journaling
// is disabled.
func (c *Coordinator) RecentJournal(limit int) ([]JournalEntry, error) {
	if c.journal == nil {
		return nil, nil
	}
	return c.journal.Recent(limit)
}

// Close stops the coordinator and closes the journal it was given. Queued
// pending changes are discarded; the call blocks until any scheduled
// requeue has drained.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wg.Wait()
		if c.journal != nil {
			_ = c.journal.Close()
		}
	})
}

func (c *Coordinator) setActive(active bool) {
	c.mu.Lock()
	c.active = active
	c.mu.Unlock()
}

// finishPass releases the exclusion token and claims the oldest queued
// change, both under c.mu: any change enqueued while the token was held is
// visible here, and any change arriving after the release finds the token
// free. The claimed change is replayed after a short delay. The receive
// from c.slot never blocks, the finishing pass put the token there.
func (c *Coordinator) finishPass() {
	c.mu.Lock()
	c.active = false
	c.lastSync = time.Now()
	<-c.slot
	var nextID string
	var nextSnapshots tabular.Snapshots
	hasNext := false
	if len(c.pendingOrder) > 0 {
		nextID = c.pendingOrder[0]
		c.pendingOrder = c.pendingOrder[1:]
		nextSnapshots = c.pending[nextID]
		delete(c.pending, nextID)
		hasNext = true
	}
	c.mu.Unlock()

	if !hasNext {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-time.After(c.requeueDelay):
			c.SyncFromStore(nextID, nextSnapshots)
		case <-c.closed:
		}
	}()
}

// maybeBroadcast publishes the event unless the previous broadcast is
// closer than the cooldown. Suppressed events are only suppressed as
// notifications; the underlying data has already been applied.
func (c *Coordinator) maybeBroadcast(event broadcast.Event) bool {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.lastBroadcast) <= c.cooldown {
		c.mu.Unlock()
		c.logf("[SYNC] notification suppressed by cooldown (%s)", event.Type)
		return false
	}
	c.lastBroadcast = now
	c.mu.Unlock()
	if c.hub != nil {
		c.hub.Publish(event)
	}
	return true
}

// publishSyncError is not subject to the cooldown: error visibility beats
// storm throttling.
func (c *Coordinator) publishSyncError(message, direction, context string) {
	if c.hub == nil {
		return
	}
	c.hub.Publish(broadcast.Event{
		Type:      broadcast.EventSyncError,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Direction: direction,
		Error:     message,
		Context:   context,
	})
}

func (c *Coordinator) appendJournal(entry JournalEntry) {
	if c.journal == nil {
		return
	}
	entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if err := c.journal.Append(entry); err != nil {
		c.logf("[SYNC] journal append failed: %v", err)
	}
}

func (c *Coordinator) upsertCache(kind tabular.Kind, record tabular.Record) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	records := c.cache[kind]
	for i, current := range records {
		if current.RecordID() == record.RecordID() {
			records[i] = record.Clone()
			c.cache[kind] = records
			return
		}
	}
	c.cache[kind] = append(records, record.Clone())
}

// recomputeStoryAggregates refreshes a story's donation totals from the
// cached completed donations and persists the story row. Called while the
// exclusion token is held, so the nested store write cannot interleave with
// another pass.
func (c *Coordinator) recomputeStoryAggregates(storyID string) {
	if storyID == "" {
		return
	}
	c.cacheMu.RLock()
	var story tabular.Story
	found := false
	for _, record := range c.cache[tabular.KindStory] {
		if s, ok := record.(tabular.Story); ok && s.ID == storyID {
			story = s.Clone().(tabular.Story)
			found = true
			break
		}
	}
	total := 0.0
	donors := 0
	for _, record := range c.cache[tabular.KindDonation] {
		if d, ok := record.(tabular.Donation); ok && d.StoryID == storyID && d.Status == "completed" {
			total += d.Amount
			donors++
		}
	}
	c.cacheMu.RUnlock()
	if !found {
		return
	}
	if story.DonationAmount == total && story.DonorCount == donors {
		return
	}
	story.DonationAmount = total
	story.DonorCount = donors
	result := c.store.Upsert(tabular.KindStory, story)
	if !result.Success {
		c.logf("[SYNC] aggregate recompute for story %s failed: %s", storyID, joinErrors(result.Errors))
		return
	}
	c.upsertCache(tabular.KindStory, result.Record)
	c.logf("[SYNC] story %s aggregates now %.2f from %d donors", storyID, total, donors)
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

func joinErrors(errs []string) string {
	out := ""
	for i, err := range errs {
		if i > 0 {
			out += "; "
		}
		out += err
	}
	return out
}

func totalCounts(counts map[tabular.Kind]diffCounts, pick func(diffCounts) int) int {
	total := 0
	for _, c := range counts {
		total += pick(c)
	}
	return total
}
