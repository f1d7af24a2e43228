// Package jwt signs and verifies access and refresh tokens and keeps a
// fingerprint denylist so individual tokens can be revoked before expiry.
package jwt
