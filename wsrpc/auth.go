// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the identity bound to a listener-side connection
// (spec.md §3 "Connection identity"). The zero value is the
// unauthenticated identity; anonymousPrincipal is the shared instance of it.
type Principal struct {
	Authenticated bool
	Subject       string
	Claims        jwt.MapClaims
}

// anonymousPrincipal is the shared identity every connection starts with
// and returns to after SignOut.
var anonymousPrincipal = &Principal{}

// signInActionName and signOutActionName are the two reserved internal
// actions (spec.md §4.6). They are intercepted by the dispatch pipeline
// before any controller lookup and do not live in a Registry.
const (
	signInActionName  = "SignIn"
	signOutActionName = "SignOut"
)

func isReservedAuthAction(name string) bool {
	return equalFold(name, signInActionName) || equalFold(name, signOutActionName)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// TokenCodec is the opaque auth-token collaborator (spec.md §1, §9): issue
// mints a token for a principal, verify recovers the principal a
// previously-issued token carries or reports why it cannot.
type TokenCodec interface {
	Issue(subject string, validity time.Duration) ([]byte, error)
	Verify(token []byte) (*Principal, error)
}

// jwtTokenCodec is the default TokenCodec, an HS256 JWT envelope
// (grounded on the fake auth server's token-issuing pattern). Production
// deployments should supply their own TokenCodec backed by the
// organization's actual identity provider.
type jwtTokenCodec struct {
	signingKey []byte
	issuer     string
}

// NewJWTTokenCodec returns a TokenCodec that issues and verifies HS256
// JSON Web Tokens signed with signingKey.
func NewJWTTokenCodec(signingKey []byte, issuer string) TokenCodec {
	return &jwtTokenCodec{signingKey: signingKey, issuer: issuer}
}

func (c *jwtTokenCodec) Issue(subject string, validity time.Duration) ([]byte, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.issuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(validity).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.signingKey)
	if err != nil {
		return nil, err
	}
	return []byte(signed), nil
}

func (c *jwtTokenCodec) Verify(token []byte) (*Principal, error) {
	parsed, err := jwt.Parse(string(token), func(t *jwt.Token) (any, error) {
		return c.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(c.issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, &ProtocolError{Reason: "token claims malformed"}
	}
	subject, _ := claims["sub"].(string)
	return &Principal{Authenticated: true, Subject: subject, Claims: claims}, nil
}

// handleSignIn implements spec.md §4.6 SignIn(token): decode, check
// expiry via TokenCodec.Verify, and on success replace the connection's
// Principal for all subsequent requests.
func (c *Connection) handleSignIn(tokenStr string) (Status, string) {
	if c.tokenCodec == nil {
		return StatusInternalError, "Internal Server Error"
	}
	principal, err := c.tokenCodec.Verify([]byte(tokenStr))
	if err != nil {
		return StatusBadRequest, authFailureMessage(err)
	}
	c.setPrincipal(principal)
	return StatusOk, ""
}

// handleSignOut implements spec.md §4.6 SignOut(): atomically resets to
// the unauthenticated principal.
func (c *Connection) handleSignOut() (Status, string) {
	c.principal.Store(anonymousPrincipal)
	return StatusOk, ""
}

func authFailureMessage(err error) string {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "token expired"
	}
	return "token invalid"
}

// SignIn issues the reserved SignIn(token) action and, on success, every
// subsequent inbound request on this connection observes the resulting
// principal (spec.md §4.6, §8 "Auth monotonicity").
func (c *Connection) SignIn(ctx context.Context, token string) error {
	_, err := c.call(ctx, signInActionName, []any{token}, nil, false, false)
	return err
}

// SignOut issues the reserved SignOut() action, resetting the
// connection's observed principal to unauthenticated.
func (c *Connection) SignOut(ctx context.Context) error {
	_, err := c.call(ctx, signOutActionName, nil, nil, false, false)
	return err
}

// checkPermission implements the listener-side policy of spec.md §4.6. The
// dialer side never calls this; it trusts the server unconditionally.
func (c *Connection) checkPermission(b *actionBinding) error {
	if c.role == RoleDialer {
		return nil
	}
	if c.Principal().Authenticated {
		return nil
	}
	if b.AllowAnonymous {
		return nil
	}
	return &RemoteError{Status: StatusUnauthorized, Message: "Action " + b.fullName() + " requires user authentication."}
}
