package token

import "errors"

// ErrNoRefreshToken is returned when a credential cannot be refreshed
// because it carries no refresh token.
var ErrNoRefreshToken = errors.New("token: credential has no refresh token")
