package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceListAscending(t *testing.T) {
	l := newPriceList(false)
	for _, p := range []uint64{300, 100, 200, 100} {
		l.insert(p)
	}

	assert.Equal(t, 3, l.len())
	assert.Equal(t, uint64(100), l.headPrice())
	assert.Equal(t, uint64(200), l.next(100))
	assert.Equal(t, uint64(300), l.next(200))
	assert.Equal(t, uint64(0), l.next(300))
}

func TestPriceListDescending(t *testing.T) {
	l := newPriceList(true)
	for _, p := range []uint64{100, 300, 200} {
		l.insert(p)
	}

	assert.Equal(t, uint64(300), l.headPrice())
	assert.Equal(t, uint64(200), l.next(300))
	assert.Equal(t, uint64(100), l.next(200))
	assert.Equal(t, uint64(0), l.next(100))
}

func TestPriceListRemove(t *testing.T) {
	l := newPriceList(false)
	for _, p := range []uint64{10, 20, 30} {
		l.insert(p)
	}

	l.remove(20)
	assert.Equal(t, uint64(30), l.next(10))
	assert.False(t, l.contains(20))

	l.remove(10)
	assert.Equal(t, uint64(30), l.headPrice())

	l.remove(30)
	assert.Equal(t, uint64(0), l.headPrice())
	assert.Equal(t, 0, l.len())

	// removing an absent price is a no-op
	l.remove(30)
	assert.Equal(t, uint64(0), l.headPrice())
}

func TestPriceListNodeReuse(t *testing.T) {
	l := newPriceList(false)
	l.insert(1)
	l.insert(2)
	l.remove(1)
	l.insert(3)

	// the freed node is recycled, no new page growth
	assert.Equal(t, 1, len(l.pages))
	assert.Equal(t, 2, len(l.pages[0]))
	assert.Equal(t, uint64(2), l.headPrice())
	assert.Equal(t, uint64(3), l.next(2))
}
