package auth

import "time"

// User is an account that can authenticate against the authority service.
// Role and direct-permission links are kept as id lists rather than object
// back-pointers so records stay acyclic and cheap to serialize.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	Locked       bool      `json:"locked"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	RoleIDs             []string `json:"role_ids,omitempty"`
	DirectPermissionIDs []string `json:"direct_permission_ids,omitempty"`
}

// Role groups permissions. A role with FullAccess set grants every
// permission without enumerating them.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	FullAccess  bool      `json:"full_access"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	PermissionIDs []string `json:"permission_ids,omitempty"`
}

// Permission is a fine-grained capability. Slug is the wire-level authority
// string; APIUrl/APIMethod optionally bind it to a concrete route.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Slug        string    `json:"slug"`
	APIUrl      string    `json:"api_url,omitempty"`
	APIMethod   string    `json:"api_method,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RefreshToken is a persisted long-lived credential. The token string is the
// record's authority; permissions are re-resolved on every use, never cached
// inside the record.
type RefreshToken struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	UserID     string    `json:"user_id"`
	ExpiryDate time.Time `json:"expiry_date"`
	CreatedAt  time.Time `json:"created_at"`
	Revoked    bool      `json:"revoked"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}
