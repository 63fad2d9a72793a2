package fetch

import (
	"sync"

	"go.uber.org/zap"
)

// Identity is one browser persona: the header set a session presents.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
}

// Headers returns the request headers for this identity.
func (id Identity) Headers() map[string]string {
	return map[string]string{
		"User-Agent":      id.UserAgent,
		"Accept-Language": id.AcceptLanguage,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	}
}

var defaultIdentities = []Identity{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		AcceptLanguage: "en-GB,en;q=0.8",
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
		AcceptLanguage: "de-DE,de;q=0.9,en;q=0.6",
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
		AcceptLanguage: "fr-FR,fr;q=0.9,en;q=0.5",
	},
}

// IdentityProvider hands out the current session identity and rotates it when
// a blocking response suggests the persona is burned.
type IdentityProvider struct {
	mu        sync.Mutex
	pool      []Identity
	index     int
	rotations int
	logger    *zap.Logger
}

// NewIdentityProvider builds a provider over the given pool; an empty pool
// falls back to the built-in personas.
func NewIdentityProvider(pool []Identity, logger *zap.Logger) *IdentityProvider {
	if len(pool) == 0 {
		pool = defaultIdentities
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityProvider{pool: pool, logger: logger}
}

// Current returns the active identity.
func (p *IdentityProvider) Current() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool[p.index]
}

// Rotate advances to the next persona and returns it.
func (p *IdentityProvider) Rotate() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = (p.index + 1) % len(p.pool)
	p.rotations++
	id := p.pool[p.index]
	p.logger.Info("session identity rotated",
		zap.Int("rotation", p.rotations),
		zap.String("user_agent", id.UserAgent),
	)
	return id
}

// Rotations returns how many times the identity has been rotated.
func (p *IdentityProvider) Rotations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}
