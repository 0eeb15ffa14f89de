package build

import "fmt"

// maxSortLen bounds the slice a single in-process sort may cover, since
// ranks are kept as int32.
const maxSortLen = 1<<31 - 1

// sortSuffixes returns the suffix array of text by prefix doubling with
// counting sorts. The end of text sorts before every byte, so a suffix
// that is a prefix of another comes first. Working memory is four int32
// arrays of len(text).
func sortSuffixes(text []byte) ([]int32, error) {
	n := len(text)
	if n > maxSortLen {
		return nil, fmt.Errorf("partition of %d bytes exceeds in-process sort limit", n)
	}
	sa := make([]int32, n)
	if n == 0 {
		return sa, nil
	}
	rank := make([]int32, n)
	tmp := make([]int32, n)
	cnt := make([]int32, max(n, 256)+1)

	// Order by first byte.
	for _, b := range text {
		cnt[int(b)+1]++
	}
	for i := 1; i <= 256; i++ {
		cnt[i] += cnt[i-1]
	}
	for i, b := range text {
		sa[cnt[b]] = int32(i)
		cnt[b]++
		rank[i] = int32(b)
	}

	for k := 1; ; k <<= 1 {
		// Second key order: suffixes without a second half first, then
		// the rest in the order of their second half.
		p := 0
		for i := max(n-k, 0); i < n; i++ {
			tmp[p] = int32(i)
			p++
		}
		for _, s := range sa {
			if int(s) >= k {
				tmp[p] = s - int32(k)
				p++
			}
		}

		// Stable counting sort by first key.
		clear(cnt)
		for _, r := range rank {
			cnt[r+1]++
		}
		for i := 1; i < len(cnt); i++ {
			cnt[i] += cnt[i-1]
		}
		for _, s := range tmp {
			r := rank[s]
			sa[cnt[r]] = s
			cnt[r]++
		}

		second := func(i int32) int32 {
			if int(i)+k < n {
				return rank[int(i)+k]
			}
			return -1
		}
		tmp[sa[0]] = 0
		classes := int32(1)
		for j := 1; j < n; j++ {
			cur, prev := sa[j], sa[j-1]
			if rank[cur] != rank[prev] || second(cur) != second(prev) {
				classes++
			}
			tmp[cur] = classes - 1
		}
		rank, tmp = tmp, rank
		if int(classes) == n || k >= n {
			break
		}
	}
	return sa, nil
}
