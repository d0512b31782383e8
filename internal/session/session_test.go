package session

import (
	"testing"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/wire"
)

func TestSetOnceSemantics(t *testing.T) {
	s := New()
	var ek crypto.EncryptionKey
	if err := s.SetEncryptionKey(ek); err != nil {
		t.Fatalf("first SetEncryptionKey: %v", err)
	}
	if err := s.SetEncryptionKey(ek); err != ErrAlreadySet {
		t.Fatalf("expected ErrAlreadySet, got %v", err)
	}
}

func TestReadyOnlyAfterAllThreeSet(t *testing.T) {
	s := New()
	if s.Ready() {
		t.Fatal("expected not ready before any field set")
	}
	var ek crypto.EncryptionKey
	var dk crypto.DecryptionKey
	s.SetEncryptionKey(ek)
	if s.Ready() {
		t.Fatal("expected not ready with only ek set")
	}
	s.SetDecryptionKey(dk)
	if s.Ready() {
		t.Fatal("expected not ready without aad set")
	}
	s.SetAssociatedData(wire.AssociatedData{})
	if !s.Ready() {
		t.Fatal("expected ready once all three fields are set")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	var key crypto.PrivateKey
	key[0] = 1
	var ek crypto.EncryptionKey
	var dk crypto.DecryptionKey
	copy(ek[:], key[:])
	copy(dk[:], key[:])

	send := New()
	send.SetEncryptionKey(ek)
	send.SetDecryptionKey(dk)
	send.SetAssociatedData(wire.AssociatedData{})

	frame, err := send.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	nonce := frame[:crypto.NonceSize]
	ct := frame[crypto.NonceSize+wire.AssociatedDataSize:]
	pt, err := send.Decrypt(ct, nonce)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "payload" {
		t.Fatalf("got %q want %q", pt, "payload")
	}
}
