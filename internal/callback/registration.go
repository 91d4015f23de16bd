package callback

// registration records one (table, type name) pair a callback was inserted
// under, so Unregister can remove it from every table it spans without the
// table needing a back-reference to its callbacks.
type registration struct {
	table    *Table
	typeName string
}

// tracker is embedded by every concrete Callback implementation to provide
// a shared, correct Unregister(): idempotent, and covers every table the
// callback was registered into regardless of how many fragments it spans.
type tracker struct {
	self          Callback
	registrations []registration
	unregistered  bool
}

// registerIn registers self under typeName in every table in tables and
// records the registration for later removal.
func (t *tracker) registerIn(tables []*Table, typeName string) {
	for _, table := range tables {
		table.Register(typeName, t.self)
		t.registrations = append(t.registrations, registration{table: table, typeName: typeName})
	}
}

// Unregister removes self from every table it was registered in. Safe to
// call more than once.
func (t *tracker) Unregister() {
	if t.unregistered {
		return
	}
	t.unregistered = true
	for _, r := range t.registrations {
		r.table.Remove(r.typeName, t.self)
	}
	t.registrations = nil
}
