package qxwire

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{0x0FFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}
	for _, c := range cases {
		got := PutVarint(nil, c.v)
		if !bytes.Equal(got, c.want) {
			t.Fatalf("PutVarint(%d) = % X, want % X", c.v, got, c.want)
		}
		v, n, err := Varint(got)
		if err != nil {
			t.Fatalf("Varint(%X) error: %v", got, err)
		}
		if v != c.v || n != len(c.want) {
			t.Fatalf("Varint(%X) = %d,%d want %d,%d", got, v, n, c.v, len(c.want))
		}
	}
}

func TestVarintRoundTripFuzzLike(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		v := rng.Uint32() & 0x0FFFFFFF
		buf := PutVarint(nil, v)
		if len(buf) > MaxVarintBytes {
			t.Fatalf("varint encoding of %d used %d bytes", v, len(buf))
		}
		got, n, err := Varint(buf)
		if err != nil {
			t.Fatalf("Varint error for %d: %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Fatalf("round trip mismatch for %d: got %d (%d bytes)", v, got, n)
		}
	}
}

func TestVarintOverflow(t *testing.T) {
	buf := []byte{0x80, 0x80, 0x80, 0x80}
	if _, _, err := Varint(buf); err != ErrVarintOverflow {
		t.Fatalf("expected ErrVarintOverflow, got %v", err)
	}
}

func FuzzVarintRoundTrip(f *testing.F) {
	f.Add(uint32(0))
	f.Add(uint32(127))
	f.Add(uint32(128))
	f.Add(uint32(0x0FFFFFFF))
	f.Fuzz(func(t *testing.T, v uint32) {
		v &= 0x0FFFFFFF
		buf := PutVarint(nil, v)
		got, n, err := Varint(buf)
		if err != nil {
			t.Fatalf("Varint error: %v", err)
		}
		if got != v || n != len(buf) {
			t.Fatalf("round trip mismatch: got %d want %d", got, v)
		}
	})
}
