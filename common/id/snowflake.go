// Package id generates globally unique, time-ordered identifiers for
// run and session bookkeeping (debug dump filenames, log correlation).
// It is never used for ModuleId, SccId, or SectionId — those stay
// deterministic, derived only from the source tree, on every run.
package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
	initErr error
)

// Init prepares the snowflake node. Must be called once before New; safe
// to call multiple times, only the first call takes effect.
func Init(nodeID int64) error {
	once.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// New returns a new time-ordered, globally unique run/session id. Init
// must have been called first; docweaver's main calls Init(0) at startup
// since it only ever runs as a single process.
func New() string {
	return node.Generate().String()
}
