package schedule

import "sort"

// Store is an append-only list of entries kept in submission order.
// Read views are sorted by ScheduledAt with ties in submission order.
type Store struct {
	entries []Entry
}

func NewStore() *Store { return &Store{} }

// Append adds e at the end and stamps its Seq.
func (s *Store) Append(e Entry) Entry {
	e.Seq = uint64(len(s.entries))
	s.entries = append(s.entries, e)
	return e
}

func (s *Store) Len() int { return len(s.entries) }

// ByAccount returns the account's entries, earliest first.
func (s *Store) ByAccount(account string) []Entry {
	return s.filtered(func(e Entry) bool { return e.Notification.Account == account })
}

// OtherAccounts returns entries of every account except the given one,
// earliest first.
func (s *Store) OtherAccounts(account string) []Entry {
	return s.filtered(func(e Entry) bool { return e.Notification.Account != account })
}

// Ordered returns a copy of all entries, earliest first.
func (s *Store) Ordered() []Entry {
	return s.filtered(nil)
}

// Accounts lists distinct accounts in first-seen order.
func (s *Store) Accounts() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range s.entries {
		a := e.Notification.Account
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func (s *Store) filtered(keep func(Entry) bool) []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// sortEntries orders by ScheduledAt, then Seq. Seq makes the order total, so
// the result matches a stable sort over submission order.
func sortEntries(es []Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.Seq < b.Seq
	})
}
