// Package password hashes and verifies stored secrets.
//
// New hashes are always Argon2id in PHC string form. Bcrypt hashes imported
// from older deployments still verify, and [Hasher.NeedsUpgrade] reports them
// so the caller can rewrite the stored value after a successful login.
package password
