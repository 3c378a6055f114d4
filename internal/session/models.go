package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marrowlabs/ferryman/internal/wire"
)

// ErrUnknownModel is returned when a model token matches nothing.
var ErrUnknownModel = errors.New("unknown model")

// EncodeModelKey builds the externally exposed selection token.
func EncodeModelKey(m wire.ModelInfo) string {
	return m.Provider + ":" + m.ID
}

// modelCatalog holds the models the agent advertises, keyed by encoded
// provider:id token.
type modelCatalog struct {
	mu      sync.Mutex
	byKey   map[string]wire.ModelInfo
	current string
}

func newModelCatalog() *modelCatalog {
	return &modelCatalog{byKey: make(map[string]wire.ModelInfo)}
}

// replace swaps in a freshly fetched model list.
func (c *modelCatalog) replace(models []wire.ModelInfo, current *wire.ModelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey = make(map[string]wire.ModelInfo, len(models))
	for _, m := range models {
		c.byKey[EncodeModelKey(m)] = m
	}
	if current != nil {
		key := EncodeModelKey(*current)
		if _, ok := c.byKey[key]; !ok {
			c.byKey[key] = *current
		}
		c.current = key
	}
}

func (c *modelCatalog) setCurrent(m wire.ModelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := EncodeModelKey(m)
	c.byKey[key] = m
	c.current = key
}

func (c *modelCatalog) currentModel() (wire.ModelInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byKey[c.current]
	return m, ok
}

// list returns all known models sorted by encoded key.
func (c *modelCatalog) list() []wire.ModelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]wire.ModelInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.byKey[k])
	}
	return out
}

// resolve accepts an encoded key, a provider:id or provider/id pair, or a
// bare id matched against any provider.
func (c *modelCatalog) resolve(token string) (wire.ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.byKey[token]; ok {
		return m, nil
	}

	sep := strings.IndexAny(token, ":/")
	if sep > 0 && sep < len(token)-1 {
		provider, id := token[:sep], token[sep+1:]
		if m, ok := c.byKey[provider+":"+id]; ok {
			return m, nil
		}
		// Not advertised, but the pair is well-formed; let the agent
		// decide whether it exists.
		return wire.ModelInfo{ID: id, Name: id, Provider: provider}, nil
	}

	for _, m := range c.byKey {
		if m.ID == token {
			return m, nil
		}
	}
	return wire.ModelInfo{}, fmt.Errorf("%w: %q", ErrUnknownModel, token)
}
