package auth

import "context"

// APIKeyInfo holds the identity and role bound to a validated API key.
type APIKeyInfo struct {
	ID        string
	KeyHash   string
	Name      string
	Role      Role
	SubjectID string
}

// Principal returns the principal authenticated by the key.
func (i *APIKeyInfo) Principal() Principal {
	return Principal{
		KeyID:     i.ID,
		Name:      i.Name,
		Role:      i.Role,
		SubjectID: i.SubjectID,
	}
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
