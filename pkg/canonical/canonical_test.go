package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHash_KnownVector pins the hash of a fixed byte string so a
// future change to the hashing scheme shows up as a test failure
// instead of silent drift.
func TestHash_KnownVector(t *testing.T) {
	got := Hash([]byte("hello\n"))
	want := "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"
	require.Equal(t, want, got)
}

func TestEncode_SortsMapKeys(t *testing.T) {
	v := map[string]int{"z": 1, "a": 2, "m": 3}
	b, err := Encode(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"m":3,"z":1}`, string(b))
}

func TestEncode_NoInsignificantWhitespace(t *testing.T) {
	type nested struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	b, err := Encode(nested{Name: "x", N: 1})
	require.NoError(t, err)
	require.Equal(t, `{"name":"x","n":1}`, string(b))
}

func TestHashValue_RoundTripsWithEncode(t *testing.T) {
	v := map[string]string{"k": "v"}
	h, b, err := HashValue(v)
	require.NoError(t, err)
	require.Equal(t, Hash(b), h)
}

func TestVerify(t *testing.T) {
	b := []byte("payload")
	h := Hash(b)
	require.True(t, Verify(h, b))
	require.False(t, Verify(h, []byte("tampered")))
}

func TestDeterminism_IdenticalValuesSameHash(t *testing.T) {
	type obj struct {
		A string `json:"a"`
		B int    `json:"b"`
	}
	h1, _, err := HashValue(obj{A: "x", B: 1})
	require.NoError(t, err)
	h2, _, err := HashValue(obj{A: "x", B: 1})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
