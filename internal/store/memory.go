package store

import (
	"sync"
	"time"

	"github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/models"
)

// MemoryStore provides an in-memory implementation of Store. It is
// thread-safe and used by tests and ephemeral setups.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]*models.Credential // key: agentID|provider
	leads       map[string]*models.Lead       // key: lead ID
	messages    map[string]*models.LeadMessage
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]*models.Credential),
		leads:       make(map[string]*models.Lead),
		messages:    make(map[string]*models.LeadMessage),
	}
}

func credKey(agentID, provider string) string {
	return agentID + "|" + provider
}

// Credential operations

func (s *MemoryStore) GetCredential(agentID, provider string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[credKey(agentID, provider)]
	if !ok {
		return nil, &errors.ErrCredentialNotFound{AgentID: agentID, Provider: provider}
	}
	copied := *cred
	return &copied, nil
}

func (s *MemoryStore) GetCredentialByEmail(email, provider string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cred := range s.credentials {
		if cred.Provider == provider && cred.ConnectedEmail == email && email != "" {
			copied := *cred
			return &copied, nil
		}
	}
	return nil, &errors.ErrCredentialNotFound{Provider: provider}
}

func (s *MemoryStore) UpsertCredential(cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cred.ConnectedEmail != "" {
		for key, existing := range s.credentials {
			if key == credKey(cred.AgentID, cred.Provider) {
				continue
			}
			if existing.Provider == cred.Provider && existing.ConnectedEmail == cred.ConnectedEmail {
				return &errors.ErrIdentityConflict{Email: cred.ConnectedEmail}
			}
		}
	}

	now := time.Now().UTC()
	copied := *cred
	if existing, ok := s.credentials[credKey(cred.AgentID, cred.Provider)]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.credentials[credKey(cred.AgentID, cred.Provider)] = &copied
	return nil
}

func (s *MemoryStore) UpdateTokens(agentID, provider, accessToken string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[credKey(agentID, provider)]
	if !ok {
		return &errors.ErrCredentialNotFound{AgentID: agentID, Provider: provider}
	}
	cred.AccessToken = accessToken
	cred.Expiry = expiry
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateCursor(agentID, provider, historyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[credKey(agentID, provider)]
	if !ok {
		return &errors.ErrCredentialNotFound{AgentID: agentID, Provider: provider}
	}
	cred.HistoryID = historyID
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateWatch(agentID, provider, historyID string, expiration time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[credKey(agentID, provider)]
	if !ok {
		return &errors.ErrCredentialNotFound{AgentID: agentID, Provider: provider}
	}
	cred.HistoryID = historyID
	cred.WatchExpiration = expiration
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ClearConnection(agentID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[credKey(agentID, provider)]
	if !ok {
		return &errors.ErrCredentialNotFound{AgentID: agentID, Provider: provider}
	}
	cred.AccessToken = ""
	cred.RefreshToken = ""
	cred.TokenType = ""
	cred.Scope = ""
	cred.Expiry = time.Time{}
	cred.ConnectedEmail = ""
	cred.HistoryID = ""
	cred.WatchExpiration = time.Time{}
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteCredential(agentID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credKey(agentID, provider)
	if _, ok := s.credentials[key]; !ok {
		return &errors.ErrCredentialNotFound{AgentID: agentID, Provider: provider}
	}
	delete(s.credentials, key)
	return nil
}

func (s *MemoryStore) ListCredentials() ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Credential, 0, len(s.credentials))
	for _, cred := range s.credentials {
		copied := *cred
		result = append(result, &copied)
	}
	return result, nil
}

// Lead intake operations

func (s *MemoryStore) FindLeadByEmail(agentID, email string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, lead := range s.leads {
		if lead.AgentID == agentID && lead.Email == email {
			copied := *lead
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) InsertLead(lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *lead
	copied.CreatedAt = time.Now().UTC()
	s.leads[lead.ID] = &copied
	return nil
}

func (s *MemoryStore) HasLeadMessage(providerMessageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if msg.ProviderMessageID == providerMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) InsertLeadMessage(msg *models.LeadMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *msg
	copied.CreatedAt = time.Now().UTC()
	s.messages[msg.ID] = &copied
	return nil
}

// LeadMessageCount reports how many lead messages are stored. Test
// helper, not part of the Store interface.
func (s *MemoryStore) LeadMessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages)
}

// Clear removes all data from the store
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials = make(map[string]*models.Credential)
	s.leads = make(map[string]*models.Lead)
	s.messages = make(map[string]*models.LeadMessage)
}

// Close implements Store Close (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)
