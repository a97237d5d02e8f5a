package timerheap

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type timer struct {
	node Node
	fire int64
}

func nodeLess(a, b *Node) bool {
	return containerOf(a).fire < containerOf(b).fire
}

// containerOf recovers the *timer owning a *Node via the Owner field,
// the idiomatic stand-in for the original's intrusive Node3* pointer
// chain.
func containerOf(n *Node) *timer {
	return n.Owner.(*timer)
}

func TestHeapPropertyAtTop(t *testing.T) {
	h := New(nodeLess)
	timers := make([]*timer, 0, 50)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		tm := &timer{fire: rng.Int63n(10000)}
		tm.node.Owner = tm
		timers = append(timers, tm)
		h.Insert(&tm.node)

		top := h.Top()
		require.NotNil(t, top)
		topTimer := containerOf(top)
		for _, other := range timers {
			require.False(t, nodeLess(&other.node, top), "heap property violated: %v should not be less than top %v", other.fire, topTimer.fire)
		}
	}
}

func TestRemoveTopYieldsSortedOrder(t *testing.T) {
	h := New(nodeLess)
	rng := rand.New(rand.NewSource(2))
	var fires []int64
	for i := 0; i < 200; i++ {
		f := rng.Int63n(100000)
		fires = append(fires, f)
		tm := &timer{fire: f}
		tm.node.Owner = tm
		h.Insert(&tm.node)
	}
	sort.Slice(fires, func(i, j int) bool { return fires[i] < fires[j] })

	var got []int64
	for h.Len() > 0 {
		top := h.RemoveTop()
		got = append(got, containerOf(top).fire)
	}
	require.Equal(t, fires, got)
}

func TestRemoveArbitraryInteriorNode(t *testing.T) {
	h := New(nodeLess)
	var all []*timer
	for i := 0; i < 30; i++ {
		tm := &timer{fire: int64(30 - i)}
		tm.node.Owner = tm
		all = append(all, tm)
		h.Insert(&tm.node)
	}

	victim := all[15]
	h.Remove(&victim.node)
	require.Equal(t, uint64(29), h.Len())

	var got []int64
	for h.Len() > 0 {
		top := h.RemoveTop()
		got = append(got, containerOf(top).fire)
	}
	for _, f := range got {
		require.NotEqual(t, victim.fire, f)
	}
	require.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
}

func TestRemoveLastNode(t *testing.T) {
	h := New(nodeLess)
	tm := &timer{fire: 1}
	tm.node.Owner = tm
	h.Insert(&tm.node)
	h.Remove(&tm.node)
	require.Equal(t, uint64(0), h.Len())
	require.Nil(t, h.Top())
}
