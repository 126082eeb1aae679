package ctxkeys

// TraceIDKey 请求链路 ID 在 context 中的键
type TraceIDKey struct{}
