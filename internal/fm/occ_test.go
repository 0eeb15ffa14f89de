package fm

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func naiveOcc(bwt []byte, c byte, i int) uint64 {
	return uint64(bytes.Count(bwt[:i], []byte{c}))
}

func TestTable_Occ(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bwt := make([]byte, 1000)
	for i := range bwt {
		bwt[i] = byte('a' + rng.Intn(4))
	}

	for _, interval := range []int{1, 7, 64, 4096} {
		table := Build(bwt, interval)
		for _, i := range []int{0, 1, 63, 64, 65, 500, 999, 1000} {
			for _, c := range []byte("abcdz") {
				assert.Equal(t, naiveOcc(bwt, c, i), table.Occ(bwt, c, uint64(i)), "interval=%d i=%d c=%c", interval, i, c)
			}
		}
	}
}

func TestTable_CArray(t *testing.T) {
	table := Build([]byte("banana"), 2)
	assert.Equal(t, uint64(0), table.C['a'])
	assert.Equal(t, uint64(3), table.C['b'])
	assert.Equal(t, uint64(4), table.C['n'])
	assert.Equal(t, uint64(6), table.C['z'])
	assert.Equal(t, uint64(3), table.Count('a'))
	assert.Equal(t, uint64(0), table.Count(255))
	assert.Equal(t, uint64(6), table.Len())
}

func TestTable_SerializationRoundTrip(t *testing.T) {
	bwt := []byte("annb$aa")
	table := Build(bwt, 3)

	var buf bytes.Buffer
	n, err := table.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	decoded, err := Decode(buf.Bytes(), uint64(len(bwt)))
	require.NoError(t, err)
	assert.Equal(t, table.C, decoded.C)
	assert.Equal(t, table.Interval(), decoded.Interval())
	for i := 0; i <= len(bwt); i++ {
		assert.Equal(t, table.Occ(bwt, 'a', uint64(i)), decoded.Occ(bwt, 'a', uint64(i)))
	}

	_, err = Decode(buf.Bytes(), 99)
	assert.Error(t, err, "length mismatch")
	_, err = Decode(buf.Bytes()[:100], uint64(len(bwt)))
	assert.Error(t, err, "truncated")
}
