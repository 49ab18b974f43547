// Package credentials supplies the active API key and selected model for a
// provider. The orchestration core reads both once per job and treats a
// missing key as a precondition failure, never as a retryable error.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/vietddude/genflow/internal/classify"
)

// ErrNoActiveKey is the cause carried by missing-credential failures.
var ErrNoActiveKey = errors.New("no active API key configured")

// Resolver supplies the active key and selected model for a provider.
type Resolver interface {
	// ActiveKey returns the credential for the provider, or a
	// missing-credential classified error when none is configured
	ActiveKey(provider string) (string, error)

	// SelectedModel returns the currently selected model for the provider
	SelectedModel(provider string) string
}

// EnvResolver reads keys from environment variables and models from static
// configuration. Model selection may be swapped at runtime.
type EnvResolver struct {
	mu      sync.RWMutex
	keyEnvs map[string]string // provider -> env var holding the key
	models  map[string]string // provider -> selected model
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{
		keyEnvs: make(map[string]string),
		models:  make(map[string]string),
	}
}

// Register wires a provider to its key env var and selected model.
func (r *EnvResolver) Register(provider, keyEnv, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyEnvs[provider] = keyEnv
	r.models[provider] = model
}

// SelectModel swaps the selected model for a provider.
func (r *EnvResolver) SelectModel(provider, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[provider] = model
}

func (r *EnvResolver) ActiveKey(provider string) (string, error) {
	r.mu.RLock()
	keyEnv := r.keyEnvs[provider]
	r.mu.RUnlock()

	if keyEnv == "" {
		return "", classify.NewError(classify.MissingCredential,
			fmt.Errorf("%w for provider %s", ErrNoActiveKey, provider))
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return "", classify.NewError(classify.MissingCredential,
			fmt.Errorf("%w: env %s is empty", ErrNoActiveKey, keyEnv))
	}
	return key, nil
}

func (r *EnvResolver) SelectedModel(provider string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[provider]
}
