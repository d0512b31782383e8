// Command keygen regenerates the relay server's static X3DH identity key
// pair and writes it back into the TOML config file in place, leaving
// every other field untouched. Grounded on
// original_source/config/update_server_keys/src/main.rs, which does the
// same read-generate-overwrite-write sequence against config.toml.
package main

import (
	"encoding/base64"
	"flag"
	"log"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/config"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/x3dh"
)

func main() {
	configPath := flag.String("config", "config/config.toml", "path to the relay's TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load %s: %v", *configPath, err)
	}

	identity, err := x3dh.NewIdentity()
	if err != nil {
		log.Fatalf("FATAL: generate identity: %v", err)
	}

	cfg.PrivateKeyServer = base64.StdEncoding.EncodeToString(identity.Private[:])
	cfg.PublicKeyServer = base64.StdEncoding.EncodeToString(identity.Public[:])

	if err := config.Save(*configPath, cfg); err != nil {
		log.Fatalf("FATAL: save %s: %v", *configPath, err)
	}

	log.Printf("rotated server identity key pair in %s", *configPath)
}
