package chatsession

import (
	"bytes"
	"testing"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/x3dh"
)

func newPeer(t *testing.T) (x3dh.Identity, x3dh.PreKeys) {
	t.Helper()
	identity, err := x3dh.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	preKeys, err := x3dh.GeneratePreKeys(1)
	if err != nil {
		t.Fatalf("GeneratePreKeys: %v", err)
	}
	return identity, preKeys
}

func TestChatSessionHandshakeThenPingPong(t *testing.T) {
	aliceIdentity, aliceKeys := newPeer(t)
	bobIdentity, bobKeys := newPeer(t)

	alice := NewManager(aliceIdentity, aliceKeys)
	bob := NewManager(bobIdentity, bobKeys)

	bobBundle := x3dh.GenerateBundle(bobIdentity, bobKeys)

	handshake, err := alice.StartChat("bob", bobBundle)
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if alice.HasSession("bob") != true {
		t.Fatal("alice should have an open session with bob immediately")
	}

	if _, established, err := bob.HandleIncoming("alice", handshake); err != nil || !established {
		t.Fatalf("bob HandleIncoming(handshake): established=%v err=%v", established, err)
	}
	if !bob.HasSession("alice") {
		t.Fatal("bob should have an open session with alice after the handshake")
	}

	frame, err := alice.Encrypt("bob", []byte("hi bob"))
	if err != nil {
		t.Fatalf("alice Encrypt: %v", err)
	}
	pt, established, err := bob.HandleIncoming("alice", frame)
	if err != nil {
		t.Fatalf("bob HandleIncoming(frame): %v", err)
	}
	if established {
		t.Fatal("a chat frame must not be mistaken for a handshake")
	}
	if !bytes.Equal(pt, []byte("hi bob")) {
		t.Fatalf("got %q, want %q", pt, "hi bob")
	}

	reply, err := bob.Encrypt("alice", []byte("hi alice"))
	if err != nil {
		t.Fatalf("bob Encrypt: %v", err)
	}
	pt, _, err = alice.HandleIncoming("bob", reply)
	if err != nil {
		t.Fatalf("alice HandleIncoming(reply): %v", err)
	}
	if !bytes.Equal(pt, []byte("hi alice")) {
		t.Fatalf("got %q, want %q", pt, "hi alice")
	}
}

func TestEncryptWithoutSessionFails(t *testing.T) {
	identity, preKeys := newPeer(t)
	m := NewManager(identity, preKeys)
	if _, err := m.Encrypt("nobody", []byte("x")); err == nil {
		t.Fatal("expected error encrypting without an open session")
	}
}

func TestHandleIncomingWithoutSessionFails(t *testing.T) {
	identity, preKeys := newPeer(t)
	m := NewManager(identity, preKeys)
	if _, _, err := m.HandleIncoming("nobody", "not-a-handshake-or-frame"); err == nil {
		t.Fatal("expected error handling an incoming frame without an open session")
	}
}
