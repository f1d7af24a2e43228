// Package password implements password hashing and the password policy
// engine.
//
// # Output format
//
// New hashes are argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [MultiHasher] additionally verifies legacy bcrypt hashes and reports them
// through NeedsUpgrade so the caller re-hashes on the next successful login.
//
// # Policy
//
// [PolicyEngine] checks complexity, reuse against remembered hashes, and
// expiry. It never stores anything: history persistence belongs to the user
// store, which appends the previous hash when a new one replaces it.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other gmpAuth package.
//   - Log plaintext passwords.
package password
