package identity

import "astrolink/pkg/store"

// Credentials adapts the local store and resolver into the auth
// source consumed by the prober and the realtime channel.
type Credentials struct {
	store    *store.Store
	resolver *Resolver
}

func NewCredentials(s *store.Store, r *Resolver) *Credentials {
	return &Credentials{store: s, resolver: r}
}

// Token returns the stored bearer session token.
func (c *Credentials) Token() (string, error) {
	return c.store.Token()
}

// ActorID returns the resolved actor id, or empty when unresolved.
// Requests can proceed without it; the header is simply omitted.
func (c *Credentials) ActorID() string {
	id, err := c.resolver.Resolve()
	if err != nil {
		return ""
	}
	return id
}
