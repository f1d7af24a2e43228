package gmpAuth

import "context"

type clientIPContextKey struct{}
type organizationIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP login throttling, the last-login record and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithOrganizationID attaches the organization a request acts within. It
// only annotates audit events; authorization calls take the organization
// explicitly.
func WithOrganizationID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, organizationIDContextKey{}, orgID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func organizationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	orgID, _ := ctx.Value(organizationIDContextKey{}).(string)
	return orgID
}
