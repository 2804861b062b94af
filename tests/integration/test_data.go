package integration

import (
	"fmt"
	"time"
)

// TestUsername generates a unique test username using a timestamp
func TestUsername(suffix string) string {
	return fmt.Sprintf("test-%d-%s", time.Now().UnixNano(), suffix)
}

// TestPassword is the shared password for seeded test users
const TestPassword = "TestPassword123!"
