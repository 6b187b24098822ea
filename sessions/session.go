package sessions

import (
	"time"

	"github.com/jrsteele09/go-auth-client/internal/utils"
)

// CookieSessionMarker is persisted in place of a token when the server
// session is carried purely by cookies. It only lets RestoreSession and
// IsValid report "was authenticated" after a restart; it is local state and
// is never sent to a server.
const CookieSessionMarker = "cookie-session"

// UserProfile is the normalized user record returned by the API.
type UserProfile struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	SettingID string `json:"settingId,omitempty"`
}

// Session is the durable proof of authentication. At least one of Token and
// User is non-nil.
type Session struct {
	Token          *string
	User           *UserProfile
	SettingID      *string
	TokenExpiresAt *int64 // epoch seconds
	LoginTime      time.Time
	LastActiveTime time.Time
	IsValid        bool
	DeviceInfo     DeviceInfo
}

// IsCookieBased reports whether the session has no bearer token of its own.
func (s *Session) IsCookieBased() bool {
	return s.Token == nil || *s.Token == CookieSessionMarker
}

// BearerToken returns the token to send in an Authorization header, or ""
// for cookie-based sessions.
func (s *Session) BearerToken() string {
	if s.IsCookieBased() {
		return ""
	}
	return utils.Value(s.Token)
}

// DeviceInfo is stored with the session metadata.
type DeviceInfo struct {
	DeviceID   string `json:"deviceId,omitempty"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
}

// sessionMeta is the JSON document stored under KeySessionMeta.
type sessionMeta struct {
	LoginTime      int64      `json:"loginTime"`      // epoch ms
	LastActiveTime int64      `json:"lastActiveTime"` // epoch ms
	IsValid        bool       `json:"isValid"`
	DeviceInfo     DeviceInfo `json:"deviceInfo"`
}

// NewSession holds the fields a fresh session is created from; nil fields
// are not written.
type NewSession struct {
	Token          *string
	User           *UserProfile
	SettingID      *string
	TokenExpiresAt *int64
}

// SessionUpdate merges into an existing session; nil fields keep their
// current value.
type SessionUpdate struct {
	Token          *string
	User           *UserProfile
	SettingID      *string
	TokenExpiresAt *int64
}

// TeamMemberOverlay is the delegated-access record persisted next to, but
// independently of, the primary session.
type TeamMemberOverlay struct {
	LoggedIn bool   `json:"loggedIn"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// VerificationMarker gates how often the session is re-verified with the
// server.
type VerificationMarker struct {
	Status    bool  `json:"status"`
	Timestamp int64 `json:"timestamp"` // epoch ms
}
