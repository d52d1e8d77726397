package httpapi

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ApproverTokens verifies the credentials presented on manual approval
// decisions. Tokens are configured as "name:plaintext" pairs and stored
// bcrypt-hashed; a decision call must present a token matching one of them,
// and the matching name becomes the recorded decider.
type ApproverTokens struct {
	mu     sync.RWMutex
	hashes map[string][]byte // approver name -> bcrypt hash
}

// NewApproverTokens hashes the given "name:token" pairs. An empty list yields
// a verifier that rejects everything, which disables manual approvals.
func NewApproverTokens(pairs []string) (*ApproverTokens, error) {
	a := &ApproverTokens{hashes: make(map[string][]byte, len(pairs))}
	for _, pair := range pairs {
		name, token, ok := strings.Cut(pair, ":")
		if !ok || name == "" || token == "" {
			return nil, fmt.Errorf("approver token %q: want name:token", pair)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash approver token for %q: %w", name, err)
		}
		a.hashes[name] = hash
	}
	return a, nil
}

// Verify checks the presented token against every configured approver and
// returns the matching approver name. bcrypt comparison is constant-time per
// candidate.
func (a *ApproverTokens) Verify(token string) (string, bool) {
	if a == nil || token == "" {
		return "", false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for name, hash := range a.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil {
			return name, true
		}
	}
	return "", false
}

// Add registers or replaces one approver credential at runtime.
func (a *ApproverTokens) Add(name, token string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash approver token for %q: %w", name, err)
	}
	a.mu.Lock()
	a.hashes[name] = hash
	a.mu.Unlock()
	return nil
}

// Names returns the configured approver names.
func (a *ApproverTokens) Names() []string {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.hashes))
	for name := range a.hashes {
		names = append(names, name)
	}
	return names
}
