package dcontext

import "context"

// registryHostKey carries the loopback host:port the registry is currently
// being served on (e.g. "127.0.0.1:4873") through request handling, so
// packument handlers can rewrite dist.tarball URLs without threading the
// configured port through every function signature.
type registryHostKey struct{}

func (registryHostKey) String() string { return "registryHost" }

// WithRegistryHost returns a context carrying the registry's own loopback
// address for tarball URL rewriting.
func WithRegistryHost(ctx context.Context, hostPort string) context.Context {
	return context.WithValue(ctx, registryHostKey{}, hostPort)
}

// GetRegistryHost returns the loopback address set by WithRegistryHost, or
// "" if none was set.
func GetRegistryHost(ctx context.Context) string {
	v, _ := ctx.Value(registryHostKey{}).(string)
	return v
}
