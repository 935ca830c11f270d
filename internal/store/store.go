package store

import (
	"time"

	"github.com/leadloft/leadloft/internal/models"
)

// Store defines the persistence interface for credentials and intake data.
// Credential operations are atomic at the single-record level; callers get
// *errors.ErrCredentialNotFound when a record is absent and
// *errors.ErrStoreUnavailable when the backend itself failed.
type Store interface {
	// Credential operations
	GetCredential(agentID, provider string) (*models.Credential, error)
	GetCredentialByEmail(email, provider string) (*models.Credential, error)
	UpsertCredential(cred *models.Credential) error
	UpdateTokens(agentID, provider, accessToken string, expiry time.Time) error
	UpdateCursor(agentID, provider, historyID string) error
	UpdateWatch(agentID, provider, historyID string, expiration time.Time) error
	ClearConnection(agentID, provider string) error
	DeleteCredential(agentID, provider string) error
	ListCredentials() ([]*models.Credential, error)

	// Lead intake operations
	FindLeadByEmail(agentID, email string) (*models.Lead, error)
	InsertLead(lead *models.Lead) error
	HasLeadMessage(providerMessageID string) (bool, error)
	InsertLeadMessage(msg *models.LeadMessage) error

	Close() error
}
