// Package token is the token service: it mints and validates the three
// signed claim bundles the authentication core runs on — access, refresh,
// and MFA-challenge tokens.
//
// Every token embeds a unique jti, which is the only handle the revocation
// registry needs. The kind discriminator is itself a signed claim and
// [Manager.Parse] takes the expected kind as an argument, so a challenge
// token can never be redeemed as a bearer credential no matter what the
// calling code forgets to check.
//
// # What this package must NOT do
//
//   - Consult any store. Validation is pure signature + claims checking;
//     revocation is the caller's concern.
//   - Re-derive roles. The role snapshot in access claims is fixed at
//     issuance time.
package token
