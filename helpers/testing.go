package helpers

import (
	"math/rand"
	"time"
)

func RandUnix() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// RandBytes is test helper. Size range: [min, max).
func RandBytes(r *rand.Rand, min, max int) []byte {
	n := min
	if max > min {
		n += r.Intn(max - min)
	}
	b := make([]byte, n)
	_, _ = r.Read(b)
	return b
}
