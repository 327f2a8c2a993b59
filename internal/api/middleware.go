/**
 * @description
 * Request middleware: Supabase JWT authentication, role checks against the
 * Casbin policy, the internal service key and the client operation id used to
 * echo realtime changes back to the tab that caused them.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: HS256 token verification.
 * - internal/authz: role permissions.
 */

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cureliah/backend/internal/app"
	"github.com/cureliah/backend/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	opIDHeader        = "X-Client-Op-Id"
	internalKeyHeader = "X-Internal-Key"
	maxOpIDLength     = 64
)

type actorContextKey struct{}

var (
	errMissingToken   = errors.New("authorization token required")
	errInvalidToken   = errors.New("invalid token")
	errUnknownProfile = errors.New("no profile for token subject")
)

// ProfileLookup resolves a user id to its profile.
type ProfileLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}

// PolicyChecker answers role permission questions.
type PolicyChecker interface {
	Allowed(role, object, action string) bool
}

// Authenticator verifies Supabase access tokens and resolves the caller's profile.
type Authenticator struct {
	secret   []byte
	audience string
	profiles ProfileLookup
}

// NewAuthenticator builds an authenticator. An empty audience skips the aud check.
func NewAuthenticator(secret, audience string, profiles ProfileLookup) *Authenticator {
	return &Authenticator{secret: []byte(secret), audience: audience, profiles: profiles}
}

// Authenticate validates tokenString and returns the actor it identifies.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (app.Actor, error) {
	if tokenString == "" {
		return app.Actor{}, errMissingToken
	}
	if len(a.secret) == 0 {
		return app.Actor{}, fmt.Errorf("%w: signing secret not configured", errInvalidToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return app.Actor{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return app.Actor{}, fmt.Errorf("%w: subject is not a user id", errInvalidToken)
	}
	profile, err := a.profiles.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return app.Actor{}, errUnknownProfile
		}
		return app.Actor{}, err
	}
	return app.Actor{ID: profile.ID, Role: profile.Role, Email: profile.Email}, nil
}

// Middleware requires a valid bearer token and stores the actor in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		actor, err := a.Authenticate(r.Context(), token)
		if err != nil {
			status, message := authFailure(err)
			writeAuthError(w, status, message)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, errMissingToken):
		return http.StatusUnauthorized, "Authorization header required"
	case errors.Is(err, errInvalidToken):
		return http.StatusUnauthorized, "Invalid token"
	case errors.Is(err, errUnknownProfile):
		return http.StatusForbidden, "Profile not found"
	default:
		return http.StatusInternalServerError, "Could not resolve user profile"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if header == "" || token == header {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func withActor(ctx context.Context, actor app.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the authenticated caller set by the auth middleware.
func ActorFromContext(ctx context.Context) (app.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(app.Actor)
	return actor, ok
}

// RequirePermission rejects callers whose role may not perform action on object.
func RequirePermission(policy PolicyChecker, object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !policy.Allowed(string(actor.Role), object, action) {
				writeAuthError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// InternalOrAdmin admits service-to-service calls carrying the internal key,
// and otherwise falls back to bearer authentication plus the email:send permission.
func InternalOrAdmin(internalKey string, auth *Authenticator, policy PolicyChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		userPath := auth.Middleware(RequirePermission(policy, "email", "send")(next))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provided := r.Header.Get(internalKeyHeader); provided != "" {
				if internalKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(internalKey)) != 1 {
					writeAuthError(w, http.StatusUnauthorized, "Invalid internal key")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			userPath.ServeHTTP(w, r)
		})
	}
}

// OpID copies the client's operation id into the request context.
func OpID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opID := strings.TrimSpace(r.Header.Get(opIDHeader))
		if len(opID) > maxOpIDLength {
			opID = opID[:maxOpIDLength]
		}
		if opID != "" {
			r = r.WithContext(app.WithOpID(r.Context(), opID))
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "{\"error\":%q}\n", message)
}
