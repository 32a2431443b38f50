// Package sha1 includes tests for the content-addressing hasher.
package sha1

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := Sum([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestSumDistinguishesContent checks that different text yields different ids.
func TestSumDistinguishesContent(t *testing.T) {
	t.Parallel()

	if Sum([]byte("a")) == Sum([]byte("b")) {
		t.Fatal("expected distinct digests")
	}
}
