package domain

// User is an end-user account. Username is unique within a tenant.
type User struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	PasswordHash string            `json:"-"`
	TenantID     string            `json:"tenant_id"`
	Active       bool              `json:"active"`
	Claims       map[string]string `json:"claims,omitempty"`
}
