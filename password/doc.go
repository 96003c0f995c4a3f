// Package password hashes and verifies passwords.
//
// New hashes are argon2id in PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] also verifies legacy bcrypt hashes ($2a$, $2b$, $2y$) so that
// imported accounts keep working; [Hasher.NeedsUpgrade] tells the caller to
// re-hash them with argon2id after the next successful verification.
//
// Password policy (length, reuse) is enforced by the engine, not here.
package password
