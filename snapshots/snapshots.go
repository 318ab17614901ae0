package snapshots

// Store assigns monotonically increasing ids to snapshot payloads. Ids
// are never reused: the counter only advances, and removing id N also
// drops every id issued after it, so a consumed or superseded snapshot
// can never be revived except through an explicit InsertAt.
type Store[T any] struct {
	nextID    uint64
	snapshots map[uint64]T
}

// NewStore returns an empty snapshot store.
func NewStore[T any]() *Store[T] {
	return &Store[T]{snapshots: make(map[uint64]T)}
}

// Insert stores a payload under the next id and returns that id.
func (store *Store[T]) Insert(payload T) uint64 {
	id := store.nextID
	store.nextID++
	store.snapshots[id] = payload
	return id
}

// InsertAt stores a payload under an explicit id, reinstating a
// snapshot that was removed with keep semantics. The id counter does
// not advance.
func (store *Store[T]) InsertAt(payload T, id uint64) {
	store.snapshots[id] = payload
}

// RemoveAt removes and returns the payload at id. Every id greater than
// id is dropped as well: reverting to a point in time invalidates all
// snapshots taken after it.
func (store *Store[T]) RemoveAt(id uint64) (T, bool) {
	payload, ok := store.snapshots[id]
	if !ok {
		var zero T
		return zero, false
	}
	for existing := range store.snapshots {
		if existing >= id {
			delete(store.snapshots, existing)
		}
	}
	return payload, true
}

// Delete removes only the payload at id, leaving later snapshots
// intact.
func (store *Store[T]) Delete(id uint64) bool {
	if _, ok := store.snapshots[id]; !ok {
		return false
	}
	delete(store.snapshots, id)
	return true
}

// Copy clones the store, using clone to duplicate each payload.
func (store *Store[T]) Copy(clone func(T) T) *Store[T] {
	cpy := &Store[T]{
		nextID:    store.nextID,
		snapshots: make(map[uint64]T, len(store.snapshots)),
	}
	for id, payload := range store.snapshots {
		cpy.snapshots[id] = clone(payload)
	}
	return cpy
}

// Len returns the number of stored snapshots.
func (store *Store[T]) Len() int {
	return len(store.snapshots)
}

// Clear drops every snapshot. The id counter is left untouched, so
// later inserts still produce strictly increasing ids.
func (store *Store[T]) Clear() {
	store.snapshots = make(map[uint64]T)
}
