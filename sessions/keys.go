package sessions

// Persisted keys. These names are read by previously installed versions and
// must not change.
const (
	KeyToken           = "auth_token"
	KeyUser            = "user_data"
	KeySessionMeta     = "session_data"
	KeySettingID       = "setting_id"
	KeySettingIDLegacy = "settingId"
	KeyTokenExpiresAt  = "token_expires_at"
	KeyTimezone        = "timezone"
	KeyVerification    = "session_verified"
	KeyTeamMember      = "team_member_data"
)

// AllKeys lists every key DestroySession clears.
var AllKeys = []string{
	KeyToken,
	KeyUser,
	KeySessionMeta,
	KeySettingID,
	KeySettingIDLegacy,
	KeyTokenExpiresAt,
	KeyTimezone,
	KeyVerification,
	KeyTeamMember,
}
