package build

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortSuffixes_MatchesNaiveSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	random := make([]byte, 2000)
	for i := range random {
		random[i] = byte(rng.Intn(4)) + 'a'
	}

	tests := map[string][]byte{
		"empty":       {},
		"single":      []byte("x"),
		"banana":      []byte("banana"),
		"repeats":     []byte("aaaaaaaaaaaa"),
		"mississippi": []byte("mississippi\xfa"),
		"binary":      {0xff, 0x00, 0xff, 0x00, 0xfa},
		"random":      random,
	}

	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			sa, err := sortSuffixes(text)
			require.NoError(t, err)

			got := make([]uint64, len(sa))
			for i, p := range sa {
				got[i] = uint64(p)
			}
			assert.Equal(t, naiveSA(text), got)
		})
	}
}
