package model

import "time"

// Preferences is the per-subject settings bag surfaced to the dashboard.
type Preferences struct {
	Language      string `json:"language"`
	Theme         string `json:"theme"`
	Notifications bool   `json:"notifications"`
	WakeWord      string `json:"wakeWord"`
}

// DefaultPreferences returns the preferences assigned to newly created subjects.
func DefaultPreferences() Preferences {
	return Preferences{
		Language:      "en",
		Theme:         "dark",
		Notifications: true,
		WakeWord:      "Dev",
	}
}

// Subject is an authenticated end user. Email is the identity key and is
// stored lower-cased. ProviderIDs maps an OAuth provider tag ("google",
// "github") to the id that provider knows the subject by.
type Subject struct {
	ID          string
	Email       string
	Name        string
	Avatar      string
	ProviderIDs map[string]string
	Preferences Preferences
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a copy that shares no mutable state with the receiver.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := *s
	clone.ProviderIDs = make(map[string]string, len(s.ProviderIDs))
	for provider, id := range s.ProviderIDs {
		clone.ProviderIDs[provider] = id
	}
	return &clone
}

// TokenPair is an access/refresh credential pair. Pairs are immutable once
// issued; rotation replaces the whole pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// DeviceInfo describes the device a session was opened from.
type DeviceInfo struct {
	UserAgent string `json:"userAgent"`
	IPAddress string `json:"ipAddress"`
	Platform  string `json:"platform"`
	Name      string `json:"deviceName,omitempty"`
}

// Session is one live login bound to a device and a token pair. ExpiresAt is
// informational: the registry never evicts on its own.
type Session struct {
	ID           string
	SubjectID    string
	Device       DeviceInfo
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	LastActivity time.Time
}

// PermissionGrant is the latest grant/revoke record for one
// (subject, permission) key. There is at most one record per key; a new
// grant overwrites the prior one.
type PermissionGrant struct {
	SubjectID  string     `json:"userId"`
	Permission string     `json:"permission"`
	Granted    bool       `json:"granted"`
	GrantedAt  time.Time  `json:"grantedAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}
