package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Node IDs per binary. The bot and the web portal insert identity rows
// concurrently, so they must never share a node.
const (
	NodeCLI int64 = 1
	NodeBot int64 = 2
	NodeWeb int64 = 3
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Initialize sets up the generator for this process. Calling it again with
// the same node is a no-op; a different node is an error.
func Initialize(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	if node != nil {
		if node.Generate().Node() != nodeID {
			return fmt.Errorf("id generator already initialized with a different node")
		}
		return nil
	}

	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	node = n
	return nil
}

// GenerateID returns a new row identifier. Processes that never called
// Initialize fall back to the CLI node.
func GenerateID() string {
	mu.Lock()
	n := node
	mu.Unlock()

	if n == nil {
		_ = Initialize(NodeCLI)
		mu.Lock()
		n = node
		mu.Unlock()
	}
	return n.Generate().String()
}
