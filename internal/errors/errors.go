package errors

import "fmt"

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

// ErrStoreUnavailable wraps backend failures so callers can tell "backend
// down" apart from "record absent".
type ErrStoreUnavailable struct {
	Operation string
	Err       error
}

func (e *ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Operation, e.Err)
}

func (e *ErrStoreUnavailable) Unwrap() error {
	return e.Err
}

type ErrCredentialNotFound struct {
	AgentID  string
	Provider string
}

func (e *ErrCredentialNotFound) Error() string {
	if e.AgentID == "" {
		return fmt.Sprintf("credential not found for provider %s", e.Provider)
	}
	return fmt.Sprintf("credential not found for agent %s provider %s", e.AgentID, e.Provider)
}

// ErrIdentityConflict is returned when a mailbox is already connected to a
// different agent. Push routing is keyed by mailbox address, so a second
// binding would make event attribution ambiguous.
type ErrIdentityConflict struct {
	Email string
}

func (e *ErrIdentityConflict) Error() string {
	return fmt.Sprintf("mailbox %s is already connected to another agent", e.Email)
}

// Authorization flow errors

type ErrNotAuthenticated struct{}

func (e *ErrNotAuthenticated) Error() string {
	return "not authenticated"
}

type ErrMissingParameter struct {
	Name string
}

func (e *ErrMissingParameter) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Name)
}

type ErrInvalidState struct {
	Reason string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("invalid oauth state: %s", e.Reason)
}

type ErrTokenExchange struct {
	Err error
}

func (e *ErrTokenExchange) Error() string {
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *ErrTokenExchange) Unwrap() error {
	return e.Err
}

type ErrIncompleteTokenResponse struct {
	Missing string
}

func (e *ErrIncompleteTokenResponse) Error() string {
	return fmt.Sprintf("token response missing %s", e.Missing)
}

// Token refresh errors

type ErrRefreshTokenMissing struct {
	AgentID string
}

func (e *ErrRefreshTokenMissing) Error() string {
	return fmt.Sprintf("no refresh token stored for agent %s, reauthorization required", e.AgentID)
}

// ErrProviderRefresh carries the provider's raw error body for diagnostics.
type ErrProviderRefresh struct {
	Status int
	Body   string
}

func (e *ErrProviderRefresh) Error() string {
	return fmt.Sprintf("provider refresh failed with status %d: %s", e.Status, e.Body)
}

// Push pipeline errors

type ErrInvalidNotification struct {
	Reason string
}

func (e *ErrInvalidNotification) Error() string {
	return fmt.Sprintf("invalid push notification: %s", e.Reason)
}

// ErrCannotAuthenticate marks a credential whose grant cannot produce a valid
// access token anymore. Retrying is useless; the agent must reconnect.
type ErrCannotAuthenticate struct {
	AgentID string
	Err     error
}

func (e *ErrCannotAuthenticate) Error() string {
	return fmt.Sprintf("cannot authenticate agent %s: %v", e.AgentID, e.Err)
}

func (e *ErrCannotAuthenticate) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}
