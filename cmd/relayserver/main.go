// Command relayserver runs the X3DH relay: it terminates a bootstrap
// handshake with every connecting client, then relays register/
// get_prekey_bundle/send_message actions over the resulting AEAD session.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/config"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/metrics"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/relay"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/x3dh"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	configPath := flag.String("config", "config/config.toml", "path to the relay's TOML config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	identityPriv, err := cfg.IdentityPrivateKey()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	identityPub, err := cfg.IdentityPublicKey()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	identity := x3dh.Identity{Private: identityPriv, Public: identityPub}

	log.Printf("Starting relay server on %s:%s", cfg.ServerIP, cfg.ServerPort)

	srv := relay.NewServer(identity)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthCheck).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/relay", relayHandler(srv)).Methods("GET")

	httpServer := &http.Server{
		Addr:              cfg.ServerIP + ":" + cfg.ServerPort,
		Handler:           metrics.Middleware(router),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("relay server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("warning: shutdown error: %v", err)
	}
	log.Println("relay server stopped")
}

func parseEstablishRequest(raw []byte) (relay.EstablishConnectionRequest, error) {
	var req relay.EstablishConnectionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return relay.EstablishConnectionRequest{}, err
	}
	return req, nil
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// relayHandler upgrades to a WebSocket connection, runs the plaintext
// EstablishConnection bootstrap, then loops reading AEAD-sealed frames
// until the connection closes.
func relayHandler(srv *relay.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade failed: %v", err)
			return
		}
		defer wsConn.Close()

		metrics.WebSocketConnections.Inc()
		defer metrics.WebSocketConnections.Dec()

		conn := relay.NewConn(srv)
		defer conn.Disconnect()

		go drainOutbound(wsConn, conn)

		_, msg, err := wsConn.ReadMessage()
		if err != nil {
			log.Printf("read bootstrap frame failed: %v", err)
			return
		}
		req, err := parseEstablishRequest(msg)
		if err != nil {
			log.Printf("malformed bootstrap frame: %v", err)
			return
		}

		resp := conn.HandleEstablishConnection(req)
		if err := wsConn.WriteJSON(resp); err != nil {
			log.Printf("write bootstrap response failed: %v", err)
			return
		}
		if resp.Code != relay.CodeOK {
			return
		}

		for {
			_, frameMsg, err := wsConn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := relay.DecodeBase64Frame(string(frameMsg))
			if err != nil {
				log.Printf("malformed frame: %v", err)
				continue
			}
			reply, err := conn.HandleEncryptedFrame(frame)
			if err != nil {
				log.Printf("dropping connection: %v", err)
				return
			}
			if err := wsConn.WriteMessage(websocket.TextMessage, []byte(relay.EncodeBase64Frame(reply))); err != nil {
				return
			}
		}
	}
}

// drainOutbound seals peer-delivered chat payloads (queued by another
// connection's send_message action) under this connection's session and
// forwards them onto its WebSocket as base64 AEAD frames.
func drainOutbound(wsConn *websocket.Conn, conn *relay.Conn) {
	for payload := range conn.Outbound() {
		frame, err := conn.Session.Encrypt(payload)
		if err != nil {
			log.Printf("dropping delivery: %v", err)
			continue
		}
		if err := wsConn.WriteMessage(websocket.TextMessage, []byte(relay.EncodeBase64Frame(frame))); err != nil {
			return
		}
	}
}
