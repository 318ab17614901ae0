package snapshots

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreMonotonicIds(t *testing.T) {
	store := NewStore[string]()
	assert.Equal(t, uint64(0), store.Insert("a"))
	assert.Equal(t, uint64(1), store.Insert("b"))
	assert.Equal(t, uint64(2), store.Insert("c"))
	assert.Equal(t, 3, store.Len())

	// removal never causes id reuse
	_, ok := store.RemoveAt(2)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), store.Insert("d"))
}

func TestStoreRemoveCascades(t *testing.T) {
	store := NewStore[string]()
	store.Insert("a")
	store.Insert("b")
	store.Insert("c")

	payload, ok := store.RemoveAt(1)
	assert.True(t, ok)
	assert.Equal(t, "b", payload)

	// ids above the removed one are gone with it
	assert.Equal(t, 1, store.Len())
	_, ok = store.RemoveAt(2)
	assert.False(t, ok)
	_, ok = store.RemoveAt(0)
	assert.True(t, ok)
}

func TestStoreRemoveUnknown(t *testing.T) {
	store := NewStore[string]()
	store.Insert("a")
	_, ok := store.RemoveAt(9)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestStoreInsertAtReinstates(t *testing.T) {
	store := NewStore[string]()
	id := store.Insert("a")
	payload, ok := store.RemoveAt(id)
	assert.True(t, ok)

	store.InsertAt(payload, id)
	assert.Equal(t, 1, store.Len())

	// the counter did not advance for the reinstatement
	assert.Equal(t, uint64(1), store.Insert("b"))

	payload, ok = store.RemoveAt(id)
	assert.True(t, ok)
	assert.Equal(t, "a", payload)
}

func TestStoreDelete(t *testing.T) {
	store := NewStore[string]()
	store.Insert("a")
	store.Insert("b")
	store.Insert("c")

	assert.True(t, store.Delete(1))
	assert.False(t, store.Delete(1))

	// unlike RemoveAt, later snapshots survive
	payload, ok := store.RemoveAt(2)
	assert.True(t, ok)
	assert.Equal(t, "c", payload)
}

func TestStoreClearKeepsCounter(t *testing.T) {
	store := NewStore[string]()
	store.Insert("a")
	store.Insert("b")
	store.Clear()
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, uint64(2), store.Insert("c"))
}

func TestStoreCopy(t *testing.T) {
	store := NewStore[[]int]()
	store.Insert([]int{1, 2})

	cpy := store.Copy(func(v []int) []int {
		out := make([]int, len(v))
		copy(out, v)
		return out
	})
	payload, ok := cpy.RemoveAt(0)
	assert.True(t, ok)
	payload[0] = 99

	orig, ok := store.RemoveAt(0)
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2}, orig)
	assert.Equal(t, uint64(1), cpy.Insert(nil))
}
