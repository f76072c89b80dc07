package history

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushAll(h *History[string], prefix string, from, to int) {
	for i := from; i <= to; i++ {
		h.PushFront(fmt.Sprintf("%s%d", prefix, i))
	}
}

func TestNewHistoryIsEmpty(t *testing.T) {
	h := New[int](5)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 5, h.Cap())
	assert.Empty(t, h.Slice(0, 10))
}

func TestNewClampsCapacity(t *testing.T) {
	h := New[int](0)
	assert.Equal(t, 1, h.Cap())
	h.PushFront(1)
	h.PushFront(2)
	assert.Equal(t, []int{2}, h.Snapshot())
}

func TestPushFrontNewestFirst(t *testing.T) {
	h := New[string](10)
	h.PushFront("A")
	h.PushFront("B")
	h.PushFront("C")

	assert.Equal(t, []string{"C", "B", "A"}, h.Snapshot())
}

func TestPushFrontEvictsOldest(t *testing.T) {
	tests := []struct {
		capacity int
		pushes   int
	}{
		{1, 1},
		{1, 7},
		{3, 2},
		{3, 3},
		{3, 4},
		{10, 25},
		{100, 105},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("cap%d_push%d", tt.capacity, tt.pushes), func(t *testing.T) {
			h := New[int](tt.capacity)
			for i := 1; i <= tt.pushes; i++ {
				h.PushFront(i)
			}

			want := min(tt.pushes, tt.capacity)
			require.Equal(t, want, h.Len())

			got := h.Snapshot()
			require.Len(t, got, want)
			for i, v := range got {
				assert.Equal(t, tt.pushes-i, v, "index %d", i)
			}
		})
	}
}

func TestHundredAndFiveLogs(t *testing.T) {
	h := New[string](100)
	pushAll(h, "x", 1, 105)

	all := h.Snapshot()
	require.Len(t, all, 100)
	assert.Equal(t, "x105", all[0])
	assert.Equal(t, "x6", all[99])

	oldest := h.Slice(97, 3)
	assert.Equal(t, []string{"x8", "x7", "x6"}, oldest)
}

func TestSliceBounds(t *testing.T) {
	h := New[string](10)
	pushAll(h, "e", 1, 5) // newest-first: e5 e4 e3 e2 e1

	tests := []struct {
		name  string
		from  int
		count int
		want  []string
	}{
		{"head", 0, 2, []string{"e5", "e4"}},
		{"middle", 1, 3, []string{"e4", "e3", "e2"}},
		{"clamped count", 3, 10, []string{"e2", "e1"}},
		{"from at length", 5, 1, []string{}},
		{"from past length", 9, 3, []string{}},
		{"zero count", 0, 0, []string{}},
		{"negative count", 0, -1, []string{}},
		{"negative from", -4, 2, []string{"e5", "e4"}},
		{"huge count", 2, math.MaxInt, []string{"e3", "e2", "e1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Slice(tt.from, tt.count)
			assert.Equal(t, tt.want, got)
			if tt.count >= 0 {
				assert.LessOrEqual(t, len(got), tt.count)
			}
		})
	}
}

func TestSliceReturnsCopy(t *testing.T) {
	h := New[string](3)
	h.PushFront("a")

	got := h.Slice(0, 1)
	got[0] = "mutated"

	assert.Equal(t, []string{"a"}, h.Snapshot())
}

func TestConcurrentPushKeepsCapacity(t *testing.T) {
	h := New[int](50)

	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h.PushFront(base + i)
				_ = h.Slice(0, 10)
			}
		}(w * 10000)
	}
	wg.Wait()

	assert.Equal(t, 50, h.Len())
	assert.Len(t, h.Snapshot(), 50)
}

func TestPerWriterOrderPreserved(t *testing.T) {
	h := New[int](300)

	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.PushFront(base + i)
			}
		}(w * 1000)
	}
	wg.Wait()

	// Each writer's items must appear newest-first relative to each other.
	last := map[int]int{}
	for _, v := range h.Snapshot() {
		w := v / 1000
		if prev, ok := last[w]; ok {
			assert.Less(t, v, prev, "writer %d out of order", w)
		}
		last[w] = v
	}
}
