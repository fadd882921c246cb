package gateway

import (
	"sort"
	"sync"
)

// Candidate is a (provider, model) pair that may serve a chat. Lower priority
// values are tried first.
type Candidate struct {
	Provider string `json:"provider" mapstructure:"provider"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ProviderKeys holds the runtime key list and model catalog of one provider.
type ProviderKeys struct {
	Keys   []string
	Models []string
}

// KeyRing holds provider key lists. Keys may be replaced at runtime when the
// configuration file changes.
type KeyRing struct {
	mu        sync.RWMutex
	providers map[string]ProviderKeys
	order     []string
}

// NewKeyRing creates an empty key ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{providers: make(map[string]ProviderKeys)}
}

// Set replaces the keys and models of a provider.
func (k *KeyRing) Set(provider string, keys, models []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.providers[provider]; !ok {
		k.order = append(k.order, provider)
	}
	k.providers[provider] = ProviderKeys{
		Keys:   append([]string(nil), keys...),
		Models: append([]string(nil), models...),
	}
}

// Keys returns a copy of the provider's key list.
func (k *KeyRing) Keys(provider string) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]string(nil), k.providers[provider].Keys...)
}

// ProviderForModel returns the first provider whose model list contains model.
func (k *KeyRing) ProviderForModel(model string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, id := range k.order {
		for _, m := range k.providers[id].Models {
			if m == model {
				return id, true
			}
		}
	}
	return "", false
}

// rankCandidates orders candidates by priority and applies the user's
// selection. A selected pair moves to the front and other entries for the same
// model are removed.
func rankCandidates(configured []Candidate, selectedProvider, selectedModel string, keys *KeyRing) []Candidate {
	ranked := append([]Candidate(nil), configured...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority < ranked[j].Priority
	})

	if selectedModel == "" {
		return ranked
	}

	provider := selectedProvider
	if provider == "" {
		for _, c := range ranked {
			if c.Model == selectedModel {
				provider = c.Provider
				break
			}
		}
	}
	if provider == "" && keys != nil {
		provider, _ = keys.ProviderForModel(selectedModel)
	}
	if provider == "" {
		return ranked
	}

	out := make([]Candidate, 0, len(ranked)+1)
	out = append(out, Candidate{Provider: provider, Model: selectedModel})
	for _, c := range ranked {
		if c.Model == selectedModel {
			continue
		}
		out = append(out, c)
	}
	return out
}
