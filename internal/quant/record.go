package quant

// Record is an insertion-ordered mapping from feature key to value.
// The zero value is ready to use.
type Record struct {
	keys []string
	vals map[string]Value
}

func NewRecord(capacity int) Record {
	return Record{
		keys: make([]string, 0, capacity),
		vals: make(map[string]Value, capacity),
	}
}

// Set stores v under key. An existing key keeps its position.
func (r *Record) Set(key string, v Value) {
	if r.vals == nil {
		r.vals = make(map[string]Value)
	}
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = v
}

func (r Record) Get(key string) (Value, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (r Record) Keys() []string { return r.keys }

func (r Record) Len() int { return len(r.keys) }

// Merge copies every entry of other into r, in other's order.
func (r *Record) Merge(other Record) {
	for _, k := range other.keys {
		r.Set(k, other.vals[k])
	}
}

// Blank returns a record with the same keys as r and every value missing.
// Placeholder files contribute their shape only, never their values.
func (r Record) Blank() Record {
	out := NewRecord(len(r.keys))
	for _, k := range r.keys {
		out.Set(k, Missing())
	}
	return out
}
