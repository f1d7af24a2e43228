// Package otp implements the second factor: RFC 6238 time-based codes
// (HMAC-SHA1, 30 second step, 6 digits, one step of clock skew) over
// base64-encoded secrets, otpauth provisioning URIs, and single-use numeric
// recovery codes.
//
// Verification never returns an error. A secret that does not decode or a
// code that is not six digits simply fails to verify.
package otp
