package tariffs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bher20/ebillmanager/internal/billing"
)

// TextParserFunc parses the extracted text of a tariff notice.
type TextParserFunc func(text string) (billing.TariffVersion, error)

// Format describes one tariff notice layout.
type Format struct {
	// Key is the unique identifier of the format (e.g., "standard").
	Key string
	// Name is a human-readable description.
	Name      string
	ParseText TextParserFunc
}

var (
	formatsMu sync.RWMutex
	formats   = make(map[string]Format)
)

// RegisterFormat registers a notice format. It is called from init functions
// and panics on an invalid or duplicate registration.
func RegisterFormat(f Format) {
	if f.Key == "" {
		panic("tariffs: RegisterFormat called with empty key")
	}
	if f.ParseText == nil {
		panic(fmt.Sprintf("tariffs: RegisterFormat(%q) called with nil ParseText", f.Key))
	}
	formatsMu.Lock()
	defer formatsMu.Unlock()
	if _, exists := formats[f.Key]; exists {
		panic(fmt.Sprintf("tariffs: RegisterFormat called twice for key %q", f.Key))
	}
	formats[f.Key] = f
}

// GetFormat returns the format registered under key.
func GetFormat(key string) (Format, bool) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	f, ok := formats[key]
	return f, ok
}

// ListFormats returns the registered format keys in order.
func ListFormats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	keys := make([]string, 0, len(formats))
	for k := range formats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
