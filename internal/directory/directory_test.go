package directory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/wire"
)

func TestUsernamePolicy(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"alice", false},
		{"", true},
		{"al ice", true},
		{"alice123", false},
		{"alice-bob", true},
	}
	for _, c := range cases {
		_, err := NewUsername(c.name)
		if c.wantErr {
			require.Error(t, err, "username %q", c.name)
		} else {
			require.NoError(t, err, "username %q", c.name)
		}
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	d := New()
	name, err := NewUsername("alice")
	require.NoError(t, err)

	require.NoError(t, d.Register(name, &Peer{}))
	err = d.Register(name, &Peer{})
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestLookupNotFound(t *testing.T) {
	d := New()
	_, err := d.Lookup(Username("ghost"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentRegistrationExactlyOneWins(t *testing.T) {
	d := New()
	name, _ := NewUsername("alice")

	const n = 50
	var wg sync.WaitGroup
	results := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = d.Register(name, &Peer{})
		}()
	}
	wg.Wait()

	successes := 0
	conflicts := 0
	for _, err := range results {
		switch err {
		case nil:
			successes++
		default:
			conflicts++
		}
	}
	require.Equal(t, 1, successes, "exactly one registration should succeed")
	require.Equal(t, n-1, conflicts, "all others should conflict")
	require.Equal(t, 1, d.Len())
}

func TestConsumeBundleHandsOutEachOneTimePreKeyOnce(t *testing.T) {
	var otpkA, otpkB crypto.PublicKey
	otpkA[0] = 0xAA
	otpkB[0] = 0xBB
	peer := &Peer{PublishedBundle: wire.PreKeyBundle{OTPKs: []crypto.PublicKey{otpkA, otpkB}}}

	first := peer.ConsumeBundle()
	require.Len(t, first.OTPKs, 1)
	require.Equal(t, otpkA, first.OTPKs[0])

	second := peer.ConsumeBundle()
	require.Len(t, second.OTPKs, 1)
	require.Equal(t, otpkB, second.OTPKs[0])

	third := peer.ConsumeBundle()
	require.Empty(t, third.OTPKs, "no one-time prekeys left to hand out")
}

func TestRemove(t *testing.T) {
	d := New()
	name, _ := NewUsername("alice")
	require.NoError(t, d.Register(name, &Peer{}))
	d.Remove(name)
	_, err := d.Lookup(name)
	require.ErrorIs(t, err, ErrNotFound)
}
