package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// ClientID returns prefix followed by a random suffix, for connections that
// need a unique id per process such as MQTT clients.
func ClientID(prefix string) string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return prefix
	}
	prefix = strings.TrimSuffix(prefix, "-")
	if prefix == "" {
		return hex.EncodeToString(b[:])
	}
	return prefix + "-" + hex.EncodeToString(b[:])
}
