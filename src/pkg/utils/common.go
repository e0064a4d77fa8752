package utils

import (
	"math/rand"

	"github.com/Blackdeer1524/relcore/src/pkg/assert"
)

func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}

type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// GenerateUniqueInts returns n distinct integers drawn uniformly from the
// closed range [low, high].
func GenerateUniqueInts[T Integer](n int, low, high T, r *rand.Rand) []T {
	assert.Assert(low <= high, "invalid range [%v, %v]", low, high)
	size := int(high-low) + 1
	assert.Assert(n <= size, "can't pick %d unique values out of %d", n, size)

	picked := make(map[T]struct{}, n)
	res := make([]T, 0, n)
	for len(res) < n {
		v := low + T(r.Intn(size))
		if _, ok := picked[v]; ok {
			continue
		}
		picked[v] = struct{}{}
		res = append(res, v)
	}

	return res
}
