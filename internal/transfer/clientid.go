package transfer

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
)

// GenerateClientID returns a unique string for this process (hostname+pid+random).
func GenerateClientID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}
