// Command relayclient is a minimal foreground driver over internal/relay's
// Client: it dials the relay, runs the X3DH bootstrap, and offers a
// line-oriented REPL for register/get-bundle/send, per spec.md §5's three
// client tasks (receive loop, send loop, foreground driver). The TUI layer
// itself is out of scope; this is a bare CLI exercising the protocol.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/chatsession"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/relay"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/x3dh"
)

func main() {
	addr := flag.String("addr", "localhost:8443", "relay server host:port")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/relay"}
	log.Printf("connecting to %s", u.String())

	wsConn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("FATAL: dial: %v", err)
	}

	identity, err := x3dh.NewIdentity()
	if err != nil {
		log.Fatalf("FATAL: generate identity: %v", err)
	}
	// The bootstrap handshake with the relay consumes its own one-shot
	// prekeys (the server plays X3DH initiator against them); the
	// directory-published bundle used by peers to start a chat is a
	// separate, longer-lived set so the two roles never share prekeys.
	bootstrapPreKeys, err := x3dh.GeneratePreKeys(0)
	if err != nil {
		log.Fatalf("FATAL: generate bootstrap prekeys: %v", err)
	}
	directoryPreKeys, err := x3dh.GeneratePreKeys(10)
	if err != nil {
		log.Fatalf("FATAL: generate directory prekeys: %v", err)
	}
	directoryBundle := x3dh.GenerateBundle(identity, directoryPreKeys)
	chatMgr := chatsession.NewManager(identity, directoryPreKeys)

	onPush := func(msg relay.SendMessageAction) {
		plaintext, established, err := chatMgr.HandleIncoming(msg.From, msg.Text)
		if err != nil {
			fmt.Printf("\n[%s -> you] (dropped: %v)\n> ", msg.From, err)
			return
		}
		if established {
			fmt.Printf("\nchat session established with %s\n> ", msg.From)
			return
		}
		fmt.Printf("\n[%s -> you] %s\n> ", msg.From, plaintext)
	}
	client := relay.NewClient(wsConn, onPush)

	if err := client.EstablishConnection(identity, bootstrapPreKeys); err != nil {
		log.Fatalf("FATAL: handshake failed: %v", err)
	}
	log.Println("session established")

	go func() {
		if err := client.ReceiveLoop(); err != nil {
			log.Printf("receive loop ended: %v", err)
		}
	}()
	go client.SendLoop()

	runREPL(client, chatMgr, directoryBundle.ToBase64())

	_ = client.Close()
}

func runREPL(client *relay.Client, chatMgr *chatsession.Manager, bundleB64 string) {
	fmt.Println("commands: register <username>, bundle <username>, chat <peer>, send <to> <text...>, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return
		case "register":
			if len(fields) < 2 {
				fmt.Println("usage: register <username>")
				continue
			}
			runRegister(client, fields[1], bundleB64)
		case "bundle":
			if len(fields) < 2 {
				fmt.Println("usage: bundle <username>")
				continue
			}
			runGetBundle(client, fields[1])
		case "chat":
			if len(fields) < 2 {
				fmt.Println("usage: chat <peer>")
				continue
			}
			runStartChat(client, chatMgr, fields[1])
		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <to> <text...>")
				continue
			}
			runSend(client, chatMgr, fields[1], strings.Join(fields[2:], " "))
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

// runStartChat fetches peer's published bundle, runs the X3DH initiator
// step against it, and relays the resulting handshake payload as the
// first send_message text of the chat.
func runStartChat(client *relay.Client, chatMgr *chatsession.Manager, peer string) {
	resp, err := client.Request(relay.GetPreKeyBundleAction{Who: peer})
	if err != nil {
		fmt.Printf("get_prekey_bundle failed: %v\n", err)
		return
	}
	if resp.Code != relay.CodeOK {
		fmt.Printf("[%s] %s\n", resp.Code, resp.Message)
		return
	}
	bundle, err := chatsession.DecodeBundle(resp.Message)
	if err != nil {
		fmt.Printf("malformed bundle for %s: %v\n", peer, err)
		return
	}
	handshake, err := chatMgr.StartChat(peer, bundle)
	if err != nil {
		fmt.Printf("could not start chat with %s: %v\n", peer, err)
		return
	}
	sendResp, err := client.Request(relay.SendMessageAction{To: peer, Text: handshake})
	if err != nil {
		fmt.Printf("send_message failed: %v\n", err)
		return
	}
	fmt.Printf("[%s] %s\n", sendResp.Code, sendResp.Message)
}

func runRegister(client *relay.Client, username, bundleB64 string) {
	resp, err := client.Request(relay.RegisterAction{Username: username, Bundle: bundleB64})
	if err != nil {
		fmt.Printf("register failed: %v\n", err)
		return
	}
	fmt.Printf("[%s] %s\n", resp.Code, resp.Message)
}

func runGetBundle(client *relay.Client, who string) {
	resp, err := client.Request(relay.GetPreKeyBundleAction{Who: who})
	if err != nil {
		fmt.Printf("get_prekey_bundle failed: %v\n", err)
		return
	}
	fmt.Printf("[%s] %s\n", resp.Code, resp.Message)
}

// runSend ratchet-encrypts text under the open chat session with to
// before relaying it; the server never sees plaintext.
func runSend(client *relay.Client, chatMgr *chatsession.Manager, to, text string) {
	if !chatMgr.HasSession(to) {
		fmt.Printf("no open chat with %s yet; run `chat %s` first\n", to, to)
		return
	}
	frame, err := chatMgr.Encrypt(to, []byte(text))
	if err != nil {
		fmt.Printf("encrypt failed: %v\n", err)
		return
	}
	resp, err := client.Request(relay.SendMessageAction{To: to, Text: frame})
	if err != nil {
		fmt.Printf("send_message failed: %v\n", err)
		return
	}
	fmt.Printf("[%s] %s\n", resp.Code, resp.Message)
}
