package ratchet

import (
	"bytes"
	"testing"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
)

// newSessionPair builds an initiator/responder ratchet pair sharing SK, as
// X3DH would hand off, per spec.md §4.3's Initialization description.
func newSessionPair(t *testing.T) (alice *State, bob *State) {
	t.Helper()
	var sk crypto.SharedSecret
	if _, err := newRandSecret(&sk); err != nil {
		t.Fatalf("newRandSecret: %v", err)
	}
	bobInitialPriv, err := crypto.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	bobInitialPub, err := crypto.PublicFromPrivate(bobInitialPriv)
	if err != nil {
		t.Fatalf("PublicFromPrivate: %v", err)
	}

	alice, err = InitAsInitiator(sk, bobInitialPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	bob, err = InitAsResponder(sk, bobInitialPriv, bobInitialPub)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	return alice, bob
}

func newRandSecret(sk *crypto.SharedSecret) (crypto.SharedSecret, error) {
	priv, err := crypto.NewPrivateKey()
	if err != nil {
		return crypto.SharedSecret{}, err
	}
	copy(sk[:], priv[:])
	return *sk, nil
}

var testAAD = bytes.Repeat([]byte{0xAB}, 64)

func TestRatchetPingPong(t *testing.T) {
	alice, bob := newSessionPair(t)

	h1, f1, err := alice.Encrypt([]byte("hi"), testAAD)
	if err != nil {
		t.Fatalf("alice Encrypt: %v", err)
	}
	if h1.N != 0 {
		t.Fatalf("expected n_send=0 on first message, got %d", h1.N)
	}
	pt, err := bob.Decrypt(f1, testAAD)
	if err != nil {
		t.Fatalf("bob Decrypt: %v", err)
	}
	if string(pt) != "hi" {
		t.Fatalf("got %q want %q", pt, "hi")
	}

	_, f2, err := bob.Encrypt([]byte("hello"), testAAD)
	if err != nil {
		t.Fatalf("bob Encrypt: %v", err)
	}
	pt, err = alice.Decrypt(f2, testAAD)
	if err != nil {
		t.Fatalf("alice Decrypt: %v", err)
	}
	if string(pt) != "hello" {
		t.Fatalf("got %q want %q", pt, "hello")
	}

	_, f3, err := alice.Encrypt([]byte("how are you"), testAAD)
	if err != nil {
		t.Fatalf("alice Encrypt 2: %v", err)
	}
	pt, err = bob.Decrypt(f3, testAAD)
	if err != nil {
		t.Fatalf("bob Decrypt 2: %v", err)
	}
	if string(pt) != "how are you" {
		t.Fatalf("got %q want %q", pt, "how are you")
	}

	_, f4, err := bob.Encrypt([]byte("good"), testAAD)
	if err != nil {
		t.Fatalf("bob Encrypt 2: %v", err)
	}
	pt, err = alice.Decrypt(f4, testAAD)
	if err != nil {
		t.Fatalf("alice Decrypt 2: %v", err)
	}
	if string(pt) != "good" {
		t.Fatalf("got %q want %q", pt, "good")
	}
}

func TestRatchetOutOfOrderWithinChain(t *testing.T) {
	alice, bob := newSessionPair(t)

	msgs := []string{"M1", "M2", "M3", "M4", "M5"}
	frames := make([][]byte, len(msgs))
	for i, m := range msgs {
		_, f, err := alice.Encrypt([]byte(m), testAAD)
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		frames[i] = f
	}

	order := []int{2, 0, 4, 1, 3} // M3, M1, M5, M2, M4
	for _, idx := range order {
		pt, err := bob.Decrypt(frames[idx], testAAD)
		if err != nil {
			t.Fatalf("Decrypt index %d: %v", idx, err)
		}
		if string(pt) != msgs[idx] {
			t.Fatalf("index %d: got %q want %q", idx, pt, msgs[idx])
		}
	}
	if len(bob.mkSkipped) != 0 {
		t.Fatalf("expected mk_skipped to empty out, has %d entries", len(bob.mkSkipped))
	}
}

func TestRatchetMaxSkipsExceeded(t *testing.T) {
	alice, bob := newSessionPair(t)

	// Advance alice's sending chain far beyond MaxSkips without bob ever
	// decrypting, then hand bob the last frame directly.
	var last []byte
	for i := 0; i < MaxSkips+5; i++ {
		_, f, err := alice.Encrypt([]byte("x"), testAAD)
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		last = f
	}
	if _, err := bob.Decrypt(last, testAAD); err != ErrMaxSkipsExceeded {
		t.Fatalf("expected ErrMaxSkipsExceeded, got %v", err)
	}
}

func TestRatchetRejectsTamperedCiphertextThenRecovers(t *testing.T) {
	alice, bob := newSessionPair(t)

	_, good1, err := alice.Encrypt([]byte("one"), testAAD)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := append([]byte{}, good1...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := bob.Decrypt(tampered, testAAD); err != ErrAeadFailure {
		t.Fatalf("expected ErrAeadFailure, got %v", err)
	}

	// A subsequent untampered frame in the same chain still decrypts.
	_, good2, err := alice.Encrypt([]byte("two"), testAAD)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := bob.Decrypt(good2, testAAD)
	if err != nil {
		t.Fatalf("Decrypt after tamper: %v", err)
	}
	if string(pt) != "two" {
		t.Fatalf("got %q want %q", pt, "two")
	}
}

func TestRatchetTamperDetectsEveryField(t *testing.T) {
	alice, bob := newSessionPair(t)
	_, frame, err := alice.Encrypt([]byte("payload"), testAAD)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for i := range frame {
		tampered := append([]byte{}, frame...)
		tampered[i] ^= 0x01
		bobCopy := *bob
		bobCopy.mkSkipped = make(map[skippedKey]crypto.SharedSecret)
		if _, err := (&bobCopy).Decrypt(tampered, testAAD); err == nil {
			t.Fatalf("byte %d: expected decryption failure on tampered frame", i)
		}
	}

	// Original untampered frame still decrypts.
	if _, err := bob.Decrypt(frame, testAAD); err != nil {
		t.Fatalf("Decrypt original after tamper sweep: %v", err)
	}
}
