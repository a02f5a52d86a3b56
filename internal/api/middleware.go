/**
 * @description
 * This file contains custom middleware for the HTTP router. The ledger-service
 * sits behind a bearer-token-checked gateway, so the middleware's job is to
 * parse the already-issued JWT and surface its claims (subject, role,
 * department, account) to the handlers, not to run a full identity flow.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 * - github.com/google/uuid: Claim parsing.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the gateway-issued token.
const (
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
)

// Identity is the authenticated caller extracted from the bearer token.
type Identity struct {
	SubjectID  uuid.UUID // staff id or customer id
	Role       string
	Department string     // staff only
	AccountID  *uuid.UUID // customer only
}

// identityContextKey is a custom type for the context key to avoid collisions.
type identityContextKey string

const identityKey identityContextKey = "ledgerIdentity"

// AuthMiddleware creates a middleware that validates HMAC-signed bearer
// tokens from the gateway and attaches the caller identity to the context.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			identity, err := identityFromClaims(claims)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFromClaims(claims jwt.MapClaims) (Identity, error) {
	var identity Identity

	sub, ok := claims["sub"].(string)
	if !ok {
		return identity, fmt.Errorf("subject not found in token")
	}
	subjectID, err := uuid.Parse(sub)
	if err != nil {
		return identity, fmt.Errorf("subject is not a valid id")
	}
	identity.SubjectID = subjectID

	role, ok := claims["role"].(string)
	if !ok {
		return identity, fmt.Errorf("role not found in token")
	}
	switch role {
	case RoleAdmin, RoleStaff, RoleCustomer:
		identity.Role = role
	default:
		return identity, fmt.Errorf("unknown role %q", role)
	}

	if department, ok := claims["department"].(string); ok {
		identity.Department = department
	}
	if accountClaim, ok := claims["account_id"].(string); ok {
		if accountID, err := uuid.Parse(accountClaim); err == nil {
			identity.AccountID = &accountID
		}
	}

	return identity, nil
}

// GetIdentity retrieves the authenticated caller from the request context.
func GetIdentity(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// RequireRole wraps a handler chain and rejects callers whose role is not listed.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentity(r.Context())
			if !ok {
				http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
				return
			}
			if !allowed[identity.Role] {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
