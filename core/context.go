package core

import (
	"context"
	"fmt"
)

type contextKey int

const (
	claimsKey contextKey = iota
)

// GetClaims retrieves the claims of an accepted token from the context.
//
//	claims, err := core.GetClaims[*validator.Claims](ctx)
//	if err != nil {
//	    return err
//	}
func GetClaims[T any](ctx context.Context) (T, error) {
	var zero T

	val := ctx.Value(claimsKey)
	if val == nil {
		return zero, ErrClaimsNotFound
	}

	claims, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("%w: stored claims are %T", ErrClaimsNotFound, val)
	}
	return claims, nil
}

// SetClaims stores claims in the context.
func SetClaims(ctx context.Context, claims any) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// HasClaims checks if claims exist in the context without retrieving them.
func HasClaims(ctx context.Context) bool {
	return ctx.Value(claimsKey) != nil
}
