package domain

import (
	"fmt"
	"sort"
	"sync"
)

// SenderSlot is one sender's share of a campaign: how many recipients it was
// planned (Quota) and how many of those have been dispatched (Cursor).
type SenderSlot struct {
	SenderID   string
	Capacity   int
	Quota      int64
	Cursor     int64
	StartSeq   int64
	ETASeconds int64
}

// Remaining is the undispatched part of the slot's quota.
func (s SenderSlot) Remaining() int64 {
	if s.Cursor >= s.Quota {
		return 0
	}
	return s.Quota - s.Cursor
}

// CampaignAssignment is the ordered per-sender plan for one campaign.
// Exactly one slot is active at a time; the global sequence position is
// StartSeq+Cursor of the active slot. The campaign's scheduler mutates it;
// ETA polling reads it concurrently, so every method takes the lock and
// read paths hand out copies, never interior pointers.
type CampaignAssignment struct {
	CampaignID string
	Total      int64
	Slots      []SenderSlot

	mu     sync.Mutex
	active int
}

// NewCampaignAssignment builds an assignment from planned slots. StartSeq
// values are derived so slots cover 0..total-1 contiguously.
func NewCampaignAssignment(campaignID string, total int64, slots []SenderSlot) (*CampaignAssignment, error) {
	var sum int64
	seq := int64(0)
	for i := range slots {
		if slots[i].Quota < 0 {
			return nil, fmt.Errorf("%w: negative quota for sender %s", ErrValidation, slots[i].SenderID)
		}
		slots[i].StartSeq = seq
		seq += slots[i].Quota
		sum += slots[i].Quota
	}
	if sum != total {
		return nil, fmt.Errorf("%w: quotas sum to %d, want %d", ErrValidation, sum, total)
	}
	return &CampaignAssignment{CampaignID: campaignID, Total: total, Slots: slots}, nil
}

// ResumeAssignment rebuilds an assignment from the queued remainder in the
// job ledger after a pause or restart. Slots carry the actual minimum
// sequence number of their queued jobs as StartSeq and the queued count as
// Quota; dispatch picks up at the lowest sequence still queued.
func ResumeAssignment(campaignID string, total int64, slots []SenderSlot) (*CampaignAssignment, error) {
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: no queued jobs to resume", ErrValidation)
	}
	for i := range slots {
		if slots[i].Quota <= 0 {
			return nil, fmt.Errorf("%w: empty slot for sender %s", ErrValidation, slots[i].SenderID)
		}
		slots[i].Cursor = 0
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartSeq < slots[j].StartSeq })
	return &CampaignAssignment{CampaignID: campaignID, Total: total, Slots: slots}, nil
}

// activeIndex returns the index of the first slot with undispatched quota,
// scanning from the cached position. Read-only; callers hold the lock.
func (a *CampaignAssignment) activeIndex() (int, bool) {
	for i := a.active; i < len(a.Slots); i++ {
		if a.Slots[i].Remaining() > 0 {
			return i, true
		}
	}
	return 0, false
}

// Active returns a copy of the currently active slot. ok is false when the
// assignment is complete.
func (a *CampaignAssignment) Active() (SenderSlot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.activeIndex()
	if !ok {
		return SenderSlot{}, false
	}
	return a.Slots[i], true
}

// NextSequence is the campaign-global sequence number of the next job to
// dispatch. Equals Total when the assignment is exhausted.
func (a *CampaignAssignment) NextSequence() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.activeIndex()
	if !ok {
		return a.Total
	}
	return a.Slots[i].StartSeq + a.Slots[i].Cursor
}

// Advance moves the active cursor past one dispatched job.
func (a *CampaignAssignment) Advance() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i, ok := a.activeIndex(); ok {
		a.active = i
		a.Slots[i].Cursor++
	}
}

// FoldActive collapses the active slot's undispatched remainder, used when
// the queued ledger drained ahead of the cursor.
func (a *CampaignAssignment) FoldActive() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i, ok := a.activeIndex(); ok {
		a.active = i
		a.Slots[i].Cursor = a.Slots[i].Quota
	}
}

// Done reports whether every planned recipient has been dispatched.
func (a *CampaignAssignment) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.activeIndex()
	return !ok
}

// Snapshot returns a point-in-time copy safe to read without coordination,
// for ETA recomputation while the loop is running.
func (a *CampaignAssignment) Snapshot() *CampaignAssignment {
	a.mu.Lock()
	defer a.mu.Unlock()

	slots := make([]SenderSlot, len(a.Slots))
	copy(slots, a.Slots)
	return &CampaignAssignment{
		CampaignID: a.CampaignID,
		Total:      a.Total,
		Slots:      slots,
		active:     a.active,
	}
}

// Handoff re-homes the active slot's undispatched remainder onto the slot
// owned by toSenderID, preserving the global sequence position. It is a pure
// data transition: the demoted slot's quota shrinks to its cursor, the
// receiving slot absorbs the remainder and becomes active at the frozen
// sequence. Returns the sequence number at which the handoff occurred.
func (a *CampaignAssignment) Handoff(toSenderID string, toCapacity int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.activeIndex()
	if !ok {
		return 0, fmt.Errorf("%w: assignment already complete", ErrConflict)
	}
	a.active = i
	from := &a.Slots[i]
	if from.SenderID == toSenderID {
		return 0, fmt.Errorf("%w: cannot hand off to the demoted sender", ErrValidation)
	}

	seq := from.StartSeq + from.Cursor
	remainder := from.Remaining()
	from.Quota = from.Cursor

	// Collapse any later slot for the receiving sender into the handoff slot
	// so the sequence stays contiguous.
	var carried int64
	kept := a.Slots[:a.active+1]
	for i := a.active + 1; i < len(a.Slots); i++ {
		s := a.Slots[i]
		if s.SenderID == toSenderID {
			carried += s.Remaining()
			continue
		}
		kept = append(kept, s)
	}

	slot := SenderSlot{
		SenderID: toSenderID,
		Capacity: toCapacity,
		Quota:    remainder + carried,
		StartSeq: seq,
	}

	rebuilt := make([]SenderSlot, 0, len(kept)+1)
	rebuilt = append(rebuilt, kept[:a.active+1]...)
	rebuilt = append(rebuilt, slot)
	rebuilt = append(rebuilt, kept[a.active+1:]...)

	// Re-derive start sequences after the splice.
	next := seq
	for i := a.active + 1; i < len(rebuilt); i++ {
		rebuilt[i].StartSeq = next
		next += rebuilt[i].Remaining()
		rebuilt[i].Quota = rebuilt[i].Remaining()
		rebuilt[i].Cursor = 0
	}

	a.Slots = rebuilt
	a.active++
	return seq, nil
}
