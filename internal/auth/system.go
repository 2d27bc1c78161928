package auth

// SystemPrincipalID identifies the principal granted by the admin API key.
// It never corresponds to a row in the users table.
const SystemPrincipalID = "system"
