package schedule

// Dispatcher is the entry point: it resolves a time for each submitted
// notification and records it. Not safe for concurrent use.
type Dispatcher struct {
	store    *Store
	resolver *Resolver
}

func NewDispatcher(p Policy) *Dispatcher {
	return &Dispatcher{store: NewStore(), resolver: NewResolver(p)}
}

// Submit validates n, resolves its delivery time and appends it.
func (d *Dispatcher) Submit(n Notification) (Entry, error) {
	e, _, err := d.SubmitExplain(n)
	return e, err
}

// SubmitExplain is Submit returning the resolver's reasoning as well.
func (d *Dispatcher) SubmitExplain(n Notification) (Entry, Decision, error) {
	if err := n.Validate(); err != nil {
		return Entry{}, Decision{}, err
	}
	dec := d.resolver.Explain(n, d.store)
	e := d.store.Append(Entry{Notification: n, ScheduledAt: dec.At})
	return e, dec, nil
}

// Ordered returns all entries, earliest first, ties in submission order.
func (d *Dispatcher) Ordered() []Entry { return d.store.Ordered() }

// ByAccount returns one account's entries, earliest first.
func (d *Dispatcher) ByAccount(account string) []Entry { return d.store.ByAccount(account) }

func (d *Dispatcher) Accounts() []string { return d.store.Accounts() }

func (d *Dispatcher) Len() int { return d.store.Len() }

func (d *Dispatcher) Policy() Policy { return d.resolver.Policy() }
