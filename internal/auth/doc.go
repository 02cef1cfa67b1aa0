// Package auth holds the API login credential.
//
// The service has a single operator. Its password is stored in config.yaml
// only as an Argon2id PHC string (security.password_hash), produced by
// `fourheat hash-password`. POST /api/v1/auth/login verifies a password
// against it and answers with a JWT for the mutating routes.
package auth
