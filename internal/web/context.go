package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/maintrack/internal/core"
)

// withAuditMeta attaches the client address and user agent recorded on
// audit entries. RemoteAddr has already been resolved by TrustedRealIP.
func withAuditMeta(r *http.Request) context.Context {
	return core.ContextWithAuditMeta(r.Context(), core.AuditMeta{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
}
