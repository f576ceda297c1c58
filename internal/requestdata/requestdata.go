package requestdata

import (
	"context"
)

type ctxKey struct{}

var requestDataKey ctxKey

// RequestData is the caller capability installed by the auth middleware.
// Services treat a non-nil RequestData with a non-empty Email as
// "caller is authorized"; how the token was verified is not their concern.
type RequestData struct {
	TokenString string
	Email       string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey).(*RequestData); ok {
		return rd
	}
	return nil
}
