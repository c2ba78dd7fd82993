package postgres

import registrystore "github.com/convene/messenger-service/internal/registry/store"

// Re-export error types from registry/store for convenience.
type NotFoundError = registrystore.NotFoundError
type ValidationError = registrystore.ValidationError
type ConflictError = registrystore.ConflictError
type ForbiddenError = registrystore.ForbiddenError
