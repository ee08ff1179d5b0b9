package gateway

import "context"

// OriginRPC is the origin of requests that arrived over HTTP RPC.
const OriginRPC = "rpc"

type originKey struct{}

func withOrigin(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, originKey{}, clientID)
}

// OriginFromContext returns the id of the WebSocket client that issued the
// request, or OriginRPC. Events carry it so clients can skip their own echoes.
func OriginFromContext(ctx context.Context) string {
	if ctx == nil {
		return OriginRPC
	}
	if clientID, ok := ctx.Value(originKey{}).(string); ok && clientID != "" {
		return clientID
	}
	return OriginRPC
}
