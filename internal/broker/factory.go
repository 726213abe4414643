package broker

import (
	"fmt"
	"strings"
	"sync"
)

// Credentials carries the per-account secrets a connector needs. Values
// are resolved from the environment by the caller, never stored in config
// files.
type Credentials struct {
	ClientID    string
	APISecret   string
	AccessToken string
	PIN         string
}

// Constructor builds a fresh broker handle for one account. A new handle
// is constructed per account per cycle; handles are never shared.
type Constructor func(creds Credentials) (Broker, error)

var (
	factoryMu    sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register installs a connector constructor under a broker type name
// ("fyers", "zerodha", "sim"). External connector packages call this
// from their init.
func Register(name string, ctor Constructor) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || ctor == nil {
		return
	}
	factoryMu.Lock()
	constructors[name] = ctor
	factoryMu.Unlock()
}

// New builds a broker handle for the named broker type.
func New(name string, creds Credentials) (Broker, error) {
	factoryMu.RLock()
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported broker type: %s", name)
	}
	return ctor(creds)
}
