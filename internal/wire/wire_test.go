package wire

import (
	"testing"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
)

func randKey(t *testing.T) crypto.PublicKey {
	t.Helper()
	sk, err := crypto.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pk, err := crypto.PublicFromPrivate(sk)
	if err != nil {
		t.Fatalf("PublicFromPrivate: %v", err)
	}
	return pk
}

func TestPreKeyBundleRoundTrip(t *testing.T) {
	identity, err := crypto.NewIdentityPrivateKey()
	if err != nil {
		t.Fatalf("NewIdentityPrivateKey: %v", err)
	}
	spk := randKey(t)
	sig := identity.Sign(spk[:])

	b := PreKeyBundle{
		IK:    crypto.PublicKey(identity.Public()),
		SPK:   spk,
		Sig:   sig,
		OTPKs: []crypto.PublicKey{randKey(t), randKey(t)},
	}
	if err := b.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	encoded := b.ToBase64()
	got, err := PreKeyBundleFromBase64(encoded)
	if err != nil {
		t.Fatalf("PreKeyBundleFromBase64: %v", err)
	}
	if got.Bytes() == nil || string(got.Bytes()) != string(b.Bytes()) {
		t.Fatal("round trip did not reconstruct a byte-equal bundle")
	}
	if got.Size() != BaseBundleSize+2*crypto.KeySize {
		t.Fatalf("unexpected size %d", got.Size())
	}
}

func TestPreKeyBundleRoundTripNoOTPKs(t *testing.T) {
	identity, _ := crypto.NewIdentityPrivateKey()
	spk := randKey(t)
	sig := identity.Sign(spk[:])
	b := PreKeyBundle{IK: crypto.PublicKey(identity.Public()), SPK: spk, Sig: sig}

	got, err := PreKeyBundleFromBytes(b.Bytes())
	if err != nil {
		t.Fatalf("PreKeyBundleFromBytes: %v", err)
	}
	if len(got.OTPKs) != 0 {
		t.Fatalf("expected zero otpks, got %d", len(got.OTPKs))
	}
	if got.Size() != BaseBundleSize {
		t.Fatalf("unexpected size %d", got.Size())
	}
}

func TestPreKeyBundleFromBytesRejectsShortInput(t *testing.T) {
	if _, err := PreKeyBundleFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for too-short bundle")
	}
}

func TestPreKeyBundleFromBytesRejectsMisalignedTrailer(t *testing.T) {
	raw := make([]byte, BaseBundleSize+5)
	if _, err := PreKeyBundleFromBytes(raw); err == nil {
		t.Fatal("expected error for misaligned trailing bytes")
	}
}

func TestInitialMessageRoundTripWithOTPK(t *testing.T) {
	h := crypto.Hash([]byte("otpk"))
	m := InitialMessage{
		IdentityKey:    randKey(t),
		EphemeralKey:   randKey(t),
		PreKeyHash:     crypto.Hash([]byte("spk")),
		OneTimeKeyHash: &h,
		AssociatedData: AssociatedData{InitiatorIK: randKey(t), ResponderIK: randKey(t)},
	}
	if m.Size() != InitialMessageWithOTPKSize {
		t.Fatalf("unexpected size %d", m.Size())
	}
	got, err := InitialMessageFromBase64(m.ToBase64())
	if err != nil {
		t.Fatalf("InitialMessageFromBase64: %v", err)
	}
	if got.OneTimeKeyHash == nil || *got.OneTimeKeyHash != *m.OneTimeKeyHash {
		t.Fatal("one-time key hash not preserved")
	}
	if got.AssociatedData != m.AssociatedData {
		t.Fatal("associated data not preserved")
	}
}

func TestInitialMessageRoundTripWithoutOTPK(t *testing.T) {
	m := InitialMessage{
		IdentityKey:    randKey(t),
		EphemeralKey:   randKey(t),
		PreKeyHash:     crypto.Hash([]byte("spk")),
		AssociatedData: AssociatedData{InitiatorIK: randKey(t), ResponderIK: randKey(t)},
	}
	if m.Size() != InitialMessageBaseSize {
		t.Fatalf("unexpected size %d", m.Size())
	}
	got, err := InitialMessageFromBytes(m.Bytes())
	if err != nil {
		t.Fatalf("InitialMessageFromBytes: %v", err)
	}
	if got.OneTimeKeyHash != nil {
		t.Fatal("expected nil one-time key hash")
	}
}

func TestInitialMessageFromBytesRejectsBadLength(t *testing.T) {
	if _, err := InitialMessageFromBytes(make([]byte, 42)); err == nil {
		t.Fatal("expected error for bad length")
	}
}
