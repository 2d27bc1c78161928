// Package iam resolves requests to principals and enforces roles for the wiki.
//
// The package combines:
//
//   - TokenVerifier: checks identity tokens issued by the external provider
//   - SessionIssuer: mints and validates the long-lived session credential
//   - RoleSynchronizer: writes role changes to the store, then to the provider
//   - Gate: the per-request entry point that extracts one credential,
//     provisions the user record lazily and reads the authoritative role
//
// Request Flow:
//
//	Request → Edge (shape check) → Gate.Resolve() → Principal
//	       ↓
//	   Handler → Gate.RequireRole() / Gate.Authorize() → allow or deny
//
// The role store is the source of truth. Role claims embedded in identity
// tokens are a replica kept for other systems and never override the store
// inside this process.
package iam
