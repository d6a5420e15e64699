package authapi

// refreshRequest carries the opaque refresh credential presented by a client.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse is returned on a successful rotation: a fresh access token
// plus the successor refresh credential. The old credential is dead.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type issueRequest struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	Email      string `json:"email"`
	DeviceInfo string `json:"device_info,omitempty"`
}

type issueResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	FamilyID     string `json:"family_id"`
}

type sessionView struct {
	FamilyID   string `json:"family_id"`
	DeviceInfo string `json:"device_info,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	IssuedAt   string `json:"issued_at"`
	LastUsedAt string `json:"last_used_at"`
	Current    bool   `json:"current"`
}

type sessionsResponse struct {
	Sessions []sessionView `json:"sessions"`
}

type revokeSessionRequest struct {
	FamilyID string `json:"family_id"`
}

type okResponse struct {
	OK bool `json:"ok"`
}
