package server

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateToken returns a random hex bearer token. Used when the config
// leaves server.token empty.
func GenerateToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
