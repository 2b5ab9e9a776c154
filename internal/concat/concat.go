// Package concat reassembles multi-part SMS messages from the fragments
// listed by a modem and expires fragments whose siblings never arrive.
package concat

import (
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pccr10001/gsmlink/internal/pdu"
)

// Fragment is a message read from modem storage. A complete message is a
// Fragment too, carrying the union of its parts' slots.
type Fragment struct {
	Message    *pdu.Message `json:"message"`
	Storage    string       `json:"storage"`
	Slots      []int        `json:"slots"`
	ReceivedAt time.Time    `json:"received_at"`
	Deleted    bool         `json:"deleted"`
	Parts      int          `json:"parts"`
}

// Multipart reports whether the fragment belongs to a concatenated message.
func (f *Fragment) Multipart() bool {
	return f.Message != nil && f.Message.Concat != nil && f.Message.Concat.Total > 1
}

func (f *Fragment) key() string {
	c := f.Message.Concat
	return f.Message.Address.String() + "/" + strconv.Itoa(c.Reference) + "/" + strconv.Itoa(c.Total)
}

// Sort splits newMessages into complete messages, merging them with pending
// fragments where needed. Fragment groups that are still incomplete are
// returned as stillPending unless their oldest fragment is older than maxAge,
// in which case they are returned as expired.
func Sort(newMessages, pending []*Fragment, maxAge time.Duration, now time.Time) (complete, stillPending, expired []*Fragment) {
	groups := make(map[string][]*Fragment)
	var order []string
	add := func(f *Fragment) {
		k := f.key()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], f)
	}

	for _, f := range pending {
		add(f)
	}
	for _, f := range newMessages {
		if !f.Multipart() {
			if f.Parts == 0 {
				f.Parts = 1
			}
			complete = append(complete, f)
			continue
		}
		add(f)
	}

	for _, k := range order {
		group := dedupe(groups[k])
		if len(group) == group[0].Message.Concat.Total {
			complete = append(complete, merge(group))
			continue
		}
		if now.Sub(oldest(group)) > maxAge {
			expired = append(expired, group...)
			continue
		}
		stillPending = append(stillPending, group...)
	}
	return complete, stillPending, expired
}

// dedupe keeps one fragment per part number, folding the slots of a fragment
// listed twice into the first one seen.
func dedupe(group []*Fragment) []*Fragment {
	byPart := make(map[int]*Fragment, len(group))
	out := group[:0:0]
	for _, f := range group {
		part := f.Message.Concat.Part
		if first, ok := byPart[part]; ok {
			first.Slots = union(first.Slots, f.Slots)
			first.Deleted = first.Deleted && f.Deleted
			continue
		}
		byPart[part] = f
		out = append(out, f)
	}
	return out
}

func oldest(group []*Fragment) time.Time {
	t := group[0].ReceivedAt
	for _, f := range group[1:] {
		if f.ReceivedAt.Before(t) {
			t = f.ReceivedAt
		}
	}
	return t
}

func merge(group []*Fragment) *Fragment {
	sort.Slice(group, func(i, j int) bool {
		return group[i].Message.Concat.Part < group[j].Message.Concat.Part
	})
	head := *group[0].Message
	head.Text = ""
	head.UserData = nil
	head.Raw = ""

	out := &Fragment{
		Message:    &head,
		Storage:    group[0].Storage,
		ReceivedAt: oldest(group),
		Deleted:    true,
		Parts:      len(group),
	}
	for i, f := range group {
		head.Text += f.Message.Text
		head.UserData = append(head.UserData, f.Message.UserData...)
		if i > 0 {
			head.Raw += "\n"
		}
		head.Raw += f.Message.Raw
		out.Slots = union(out.Slots, f.Slots)
		out.Deleted = out.Deleted && f.Deleted
	}
	return out
}

func union(a, b []int) []int {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// Assembler holds the fragments of one modem between reads.
type Assembler struct {
	mu         sync.Mutex
	maxAge     time.Duration
	now        func() time.Time
	pending    []*Fragment
	tombstones map[string]struct{}
}

// NewAssembler returns an Assembler expiring fragments older than maxAge.
func NewAssembler(maxAge time.Duration) *Assembler {
	return &Assembler{
		maxAge:     maxAge,
		now:        time.Now,
		tombstones: make(map[string]struct{}),
	}
}

// SetClock replaces the time source.
func (a *Assembler) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// Sort feeds freshly read fragments through Sort against the retained
// pending set. Fragments that expired before are ignored when the same
// stored message is listed again.
func (a *Assembler) Sort(newMessages []*Fragment) (complete, expired []*Fragment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fresh := newMessages[:0:0]
	for _, f := range newMessages {
		if _, dead := a.tombstones[identity(f)]; dead {
			continue
		}
		fresh = append(fresh, f)
	}
	complete, a.pending, expired = Sort(fresh, a.pending, a.maxAge, a.now())
	for _, f := range expired {
		a.tombstones[identity(f)] = struct{}{}
	}
	return complete, expired
}

// Pending returns a copy of the retained fragments.
func (a *Assembler) Pending() []*Fragment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.pending)
}

// Expired reports whether f is a stored message that already expired and
// only waits for its deletion to succeed.
func (a *Assembler) Expired(f *Fragment) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, dead := a.tombstones[identity(f)]
	return dead
}

// Forget drops the tombstones of fragments whose slots all appear in
// deleted, since those can no longer be listed again.
func (a *Assembler) Forget(fragments []*Fragment, deleted []int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range fragments {
		gone := true
		for _, slot := range f.Slots {
			if !slices.Contains(deleted, slot) {
				gone = false
				break
			}
		}
		if gone {
			delete(a.tombstones, identity(f))
		}
	}
}

func identity(f *Fragment) string {
	id := f.Storage + "|"
	for _, s := range f.Slots {
		id += strconv.Itoa(s) + ","
	}
	if f.Message != nil {
		id += f.Message.Raw
	}
	return id
}
