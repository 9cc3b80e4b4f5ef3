// Package namegen names deployment runs with readable identifiers.
package namegen

import (
	"sync"

	vendor "github.com/anandvarma/namegen"
)

var (
	mutex sync.Mutex
	gen   = vendor.New()
)

type ID string

// New returns a fresh identifier. It is safe for concurrent use.
func New() ID {
	mutex.Lock()
	defer mutex.Unlock()
	return ID(gen.Get())
}

func (id ID) String() string {
	return string(id)
}
