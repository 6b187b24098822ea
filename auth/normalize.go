package auth

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1_000_000_000_000

var (
	userIDFields        = []string{"id", "_id", "userId", "user_id", "uuid"}
	userEmailFields     = []string{"email", "emailAddress", "email_address"}
	userNameFields      = []string{"name", "fullName", "full_name", "displayName"}
	userPhoneFields     = []string{"phone", "phoneNumber", "phone_number", "mobile"}
	userRoleFields      = []string{"role", "roleName", "role.name"}
	userTimezoneFields  = []string{"timezone", "timeZone", "tz"}
	userSettingIDFields = []string{"settingId", "setting_id"}

	teamMemberPaths = []string{"data.teamMember", "teamMember", "data.member", "member", "data.user", "user", "data"}
)

// normalizeBody maps a heterogeneous login or session response onto the
// fields a session is created from. fallbackToken is used when the body
// carries no token of its own. It reports false when neither a token nor a
// user was found.
func (s *Service) normalizeBody(body []byte, fallbackToken string) (sessions.NewSession, bool) {
	var n sessions.NewSession

	if c, ok := token.FromJSON(body); ok && c.Value != sessions.CookieSessionMarker {
		n.Token = utils.Ptr(c.Value)
	} else if fallbackToken != "" {
		n.Token = utils.Ptr(fallbackToken)
	}
	n.User = parseUser(body)

	if id, ok := token.FirstString(body, token.SettingIDPaths...); ok {
		n.SettingID = utils.NonEmpty(id)
	}
	if n.SettingID == nil && n.User != nil {
		n.SettingID = utils.NonEmpty(n.User.SettingID)
	}
	n.TokenExpiresAt = s.tokenExpiry(body, utils.Value(n.Token))

	return n, n.Token != nil || n.User != nil
}

// tokenExpiry prefers an explicit expiry, then a relative lifetime, then the
// JWT exp claim.
func (s *Service) tokenExpiry(body []byte, tok string) *int64 {
	if at, ok := token.FirstInt(body, token.ExpiresAtPaths...); ok && at > 0 {
		if at >= epochMillisThreshold {
			at /= 1000
		}
		return &at
	}
	if in, ok := token.FirstInt(body, token.ExpiresInPaths...); ok && in > 0 {
		at := s.nowTime().Add(time.Duration(in) * time.Second).Unix()
		return &at
	}
	if at, ok := token.ExpiresAt(tok); ok {
		return &at
	}
	return nil
}

func parseUser(body []byte) *sessions.UserProfile {
	obj, ok := token.FirstObject(body, token.UserPaths...)
	if !ok {
		return nil
	}
	raw := []byte(obj.Raw)
	first := func(fields []string) string {
		v, _ := token.FirstString(raw, fields...)
		return v
	}

	user := &sessions.UserProfile{
		ID:        first(userIDFields),
		Email:     first(userEmailFields),
		Name:      first(userNameFields),
		Phone:     first(userPhoneFields),
		Role:      first(userRoleFields),
		Timezone:  first(userTimezoneFields),
		SettingID: first(userSettingIDFields),
	}
	if user.Name == "" {
		user.Name = strings.TrimSpace(first([]string{"firstName", "first_name"}) + " " + first([]string{"lastName", "last_name"}))
	}
	if user.ID == "" && user.Email == "" {
		return nil
	}
	return user
}

func parseTeamMember(body []byte) sessions.TeamMemberOverlay {
	var overlay sessions.TeamMemberOverlay
	obj, ok := token.FirstObject(body, teamMemberPaths...)
	if !ok {
		return overlay
	}
	raw := []byte(obj.Raw)
	overlay.Name, _ = token.FirstString(raw, userNameFields...)
	overlay.Email, _ = token.FirstString(raw, userEmailFields...)
	overlay.Role, _ = token.FirstString(raw, userRoleFields...)
	return overlay
}
