// Package token implements the token authority: short-lived JWS tokens
// (JWT compact form) signed through the crypto service with a fixed signing
// alias. Tokens are never persisted.
package token
