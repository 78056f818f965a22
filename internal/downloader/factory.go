package downloader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nzbwatch/nzbwatch/internal/downloader/mock"
	"github.com/nzbwatch/nzbwatch/internal/downloader/types"
)

// Constructor builds a status client from configuration.
type Constructor func(cfg *ClientConfig) (StatusClient, error)

var (
	registryMu sync.RWMutex
	registry   = map[ClientType]Constructor{
		ClientTypeMock: func(cfg *ClientConfig) (StatusClient, error) {
			return mock.NewFromConfig(cfg), nil
		},
	}
)

// Register makes a client constructor available under the given type.
// Registering the same type twice replaces the previous constructor.
func Register(clientType ClientType, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[clientType] = ctor
}

// NewClient creates a new status client of the specified type.
func NewClient(clientType ClientType, cfg *ClientConfig) (StatusClient, error) {
	registryMu.RLock()
	ctor, ok := registry[clientType]
	registryMu.RUnlock()

	if !ok {
		if IsClientTypeSupported(string(clientType)) {
			return nil, fmt.Errorf("%w: %s client not yet implemented", ErrUnsupported, clientType)
		}
		return nil, fmt.Errorf("%w: unknown client type %s", ErrUnsupported, clientType)
	}
	if cfg == nil {
		cfg = &types.ClientConfig{}
	}
	return ctor(cfg)
}

// SupportedClientTypes returns a list of all recognized client types.
func SupportedClientTypes() []ClientType {
	return []ClientType{
		ClientTypeNZBGet,
		ClientTypeSABnzbd,
		ClientTypeMock,
	}
}

// ImplementedClientTypes returns the client types with a registered constructor.
func ImplementedClientTypes() []ClientType {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]ClientType, 0, len(registry))
	for ct := range registry {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsClientTypeSupported returns true if the client type is recognized.
func IsClientTypeSupported(clientType string) bool {
	for _, ct := range SupportedClientTypes() {
		if string(ct) == clientType {
			return true
		}
	}
	return false
}

// IsClientTypeImplemented returns true if a constructor is registered for the type.
func IsClientTypeImplemented(clientType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[ClientType(clientType)]
	return ok
}
