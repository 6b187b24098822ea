package sessions

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultVerifyInterval is how long a server verification is trusted.
const DefaultVerifyInterval = time.Hour

var (
	ErrEmptySession = errors.New("session needs a token or a user")
	ErrNoSession    = errors.New("no session")
)

// Store is the single source of truth for "is the user logged in". Every
// persisted session key is written through it. Writes complete before the
// call returns, so a read straight after a write observes it.
type Store struct {
	repo           Repo
	nowTime        func() time.Time
	verifyInterval time.Duration
	device         DeviceInfo
	mu             sync.Mutex
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// WithVerifyInterval overrides how long a server verification is trusted.
func WithVerifyInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.verifyInterval = d
		}
	}
}

// WithDeviceInfo sets the device description stored in the session metadata.
func WithDeviceInfo(info DeviceInfo) StoreOption {
	return func(s *Store) {
		s.device = info
	}
}

// NewStore creates a Store over repo.
func NewStore(repo Repo, options ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, errors.New("[NewStore] repo is required")
	}
	s := &Store{
		repo:           repo,
		nowTime:        time.Now,
		verifyInterval: DefaultVerifyInterval,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.device.DeviceID == "" {
		s.device.DeviceID = uuid.New().String()
	}
	return s, nil
}

// CreateSession starts a new session from the provided fields. Fields left
// nil are not written, and any value left over from a previous session
// under those keys is removed. The team member overlay is not touched.
func (s *Store) CreateSession(n NewSession) error {
	if n.Token == nil && n.User == nil {
		return ErrEmptySession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowTime()
	set := map[string]string{}
	var remove []string

	if n.Token != nil {
		set[KeyToken] = *n.Token
	} else {
		remove = append(remove, KeyToken)
	}

	settingID := n.SettingID
	if n.User != nil {
		raw, err := json.Marshal(n.User)
		if err != nil {
			return errors.Wrap(err, "[Store.CreateSession] marshal user")
		}
		set[KeyUser] = string(raw)
		if n.User.Timezone != "" {
			set[KeyTimezone] = n.User.Timezone
		}
		if settingID == nil {
			settingID = utils.NonEmpty(n.User.SettingID)
		}
	} else {
		remove = append(remove, KeyUser, KeyTimezone)
	}

	if settingID != nil {
		set[KeySettingID] = *settingID
		set[KeySettingIDLegacy] = *settingID
	} else {
		remove = append(remove, KeySettingID, KeySettingIDLegacy)
	}

	if n.TokenExpiresAt != nil {
		set[KeyTokenExpiresAt] = strconv.FormatInt(*n.TokenExpiresAt, 10)
	} else {
		remove = append(remove, KeyTokenExpiresAt)
	}

	meta, err := json.Marshal(sessionMeta{
		LoginTime:      now.UnixMilli(),
		LastActiveTime: now.UnixMilli(),
		IsValid:        true,
		DeviceInfo:     s.device,
	})
	if err != nil {
		return errors.Wrap(err, "[Store.CreateSession] marshal meta")
	}
	set[KeySessionMeta] = string(meta)

	if err := s.repo.Write(set, remove); err != nil {
		return errors.Wrap(err, "[Store.CreateSession] repo.Write")
	}
	return nil
}

// RestoreSession composes the persisted fields. It returns nil, nil when
// neither a token nor a user is stored.
func (s *Store) RestoreSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreLocked()
}

func (s *Store) restoreLocked() (*Session, error) {
	tok, err := s.getOptional(KeyToken)
	if err != nil {
		return nil, err
	}
	user, err := s.getUser()
	if err != nil {
		return nil, err
	}
	if tok == nil && user == nil {
		return nil, nil
	}

	session := &Session{Token: tok, User: user}

	if session.SettingID, err = s.getOptional(KeySettingID); err != nil {
		return nil, err
	}
	if session.SettingID == nil {
		if session.SettingID, err = s.getOptional(KeySettingIDLegacy); err != nil {
			return nil, err
		}
	}

	rawExp, err := s.getOptional(KeyTokenExpiresAt)
	if err != nil {
		return nil, err
	}
	if rawExp != nil {
		if exp, err := strconv.ParseInt(*rawExp, 10, 64); err == nil {
			session.TokenExpiresAt = &exp
		} else {
			log.Warn().Str("key", KeyTokenExpiresAt).Msg("ignoring unparseable token expiry")
		}
	}

	meta, err := s.getMeta()
	if err != nil {
		return nil, err
	}
	if meta != nil {
		session.LoginTime = time.UnixMilli(meta.LoginTime)
		session.LastActiveTime = time.UnixMilli(meta.LastActiveTime)
		session.IsValid = meta.IsValid
		session.DeviceInfo = meta.DeviceInfo
	}
	return session, nil
}

// UpdateSession merges u into the stored session and refreshes
// lastActiveTime. A user profile is merged field by field. It returns
// ErrNoSession when there is nothing to update.
func (s *Store) UpdateSession(u SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.restoreLocked()
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNoSession
	}

	now := s.nowTime()
	set := map[string]string{}

	if u.Token != nil {
		set[KeyToken] = *u.Token
	}
	if u.User != nil {
		merged := mergeProfile(current.User, u.User)
		raw, err := json.Marshal(merged)
		if err != nil {
			return errors.Wrap(err, "[Store.UpdateSession] marshal user")
		}
		set[KeyUser] = string(raw)
		if merged.Timezone != "" {
			set[KeyTimezone] = merged.Timezone
		}
		if u.SettingID == nil && current.SettingID == nil {
			u.SettingID = utils.NonEmpty(merged.SettingID)
		}
	}
	if u.SettingID != nil {
		set[KeySettingID] = *u.SettingID
		set[KeySettingIDLegacy] = *u.SettingID
	}
	if u.TokenExpiresAt != nil {
		set[KeyTokenExpiresAt] = strconv.FormatInt(*u.TokenExpiresAt, 10)
	}

	meta := sessionMeta{
		LoginTime:      current.LoginTime.UnixMilli(),
		LastActiveTime: now.UnixMilli(),
		IsValid:        true,
		DeviceInfo:     current.DeviceInfo,
	}
	if current.LoginTime.IsZero() {
		meta.LoginTime = now.UnixMilli()
	}
	if meta.DeviceInfo.DeviceID == "" {
		meta.DeviceInfo = s.device
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "[Store.UpdateSession] marshal meta")
	}
	set[KeySessionMeta] = string(raw)

	if err := s.repo.Write(set, nil); err != nil {
		return errors.Wrap(err, "[Store.UpdateSession] repo.Write")
	}
	return nil
}

// IsValid reports whether a token is stored and not locally expired. A past
// tokenExpiresAt destroys the session before returning false; the server
// remains the authority on validity.
func (s *Store) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.getOptional(KeyToken)
	if err != nil || tok == nil {
		return false
	}
	rawExp, err := s.getOptional(KeyTokenExpiresAt)
	if err != nil {
		return false
	}
	if rawExp != nil {
		exp, err := strconv.ParseInt(*rawExp, 10, 64)
		if err == nil && exp < s.nowTime().Unix() {
			log.Info().Int64("tokenExpiresAt", exp).Msg("session token expired locally, destroying session")
			s.destroyLocked()
			return false
		}
	}
	return true
}

// AuthorizationToken returns the bearer token for outgoing requests, or ""
// when there is none or the session is cookie-based.
func (s *Store) AuthorizationToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.getOptional(KeyToken)
	if err != nil || tok == nil || *tok == CookieSessionMarker {
		return ""
	}
	return *tok
}

// Timezone returns the persisted timezone, or "".
func (s *Store) Timezone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tz, _ := s.getOptional(KeyTimezone)
	return utils.Value(tz)
}

// ShouldVerifyWithServer reports whether the last server verification is
// missing or older than the verify interval.
func (s *Store) ShouldVerifyWithServer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.getOptional(KeyVerification)
	if err != nil || raw == nil {
		return true
	}
	var marker VerificationMarker
	if err := json.Unmarshal([]byte(*raw), &marker); err != nil || !marker.Status {
		return true
	}
	age := s.nowTime().Sub(time.UnixMilli(marker.Timestamp))
	return age >= s.verifyInterval
}

// MarkSessionVerified records a successful server verification now.
func (s *Store) MarkSessionVerified() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(VerificationMarker{Status: true, Timestamp: s.nowTime().UnixMilli()})
	if err != nil {
		return errors.Wrap(err, "[Store.MarkSessionVerified] marshal")
	}
	if err := s.repo.Write(map[string]string{KeyVerification: string(raw)}, nil); err != nil {
		return errors.Wrap(err, "[Store.MarkSessionVerified] repo.Write")
	}
	return nil
}

// DestroySession clears every persisted key. It never fails: when the batch
// removal is rejected each key is removed individually and failures are
// logged.
func (s *Store) DestroySession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyLocked()
}

func (s *Store) destroyLocked() {
	err := s.repo.Write(nil, AllKeys)
	if err == nil {
		return
	}
	log.Err(err).Msg("batch session removal failed, removing keys individually")
	for _, key := range AllKeys {
		if err := s.repo.Write(nil, []string{key}); err != nil {
			log.Err(err).Str("key", key).Msg("failed to remove session key")
		}
	}
}

// SaveTeamMember persists the delegated-access overlay.
func (s *Store) SaveTeamMember(overlay TeamMemberOverlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(overlay)
	if err != nil {
		return errors.Wrap(err, "[Store.SaveTeamMember] marshal")
	}
	if err := s.repo.Write(map[string]string{KeyTeamMember: string(raw)}, nil); err != nil {
		return errors.Wrap(err, "[Store.SaveTeamMember] repo.Write")
	}
	return nil
}

// TeamMember returns the overlay, or nil when none is stored.
func (s *Store) TeamMember() (*TeamMemberOverlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.getOptional(KeyTeamMember)
	if err != nil || raw == nil {
		return nil, err
	}
	var overlay TeamMemberOverlay
	if err := json.Unmarshal([]byte(*raw), &overlay); err != nil {
		log.Warn().Str("key", KeyTeamMember).Msg("ignoring unreadable team member overlay")
		return nil, nil
	}
	return &overlay, nil
}

// ClearTeamMember removes the overlay and nothing else.
func (s *Store) ClearTeamMember() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Write(nil, []string{KeyTeamMember}); err != nil {
		return errors.Wrap(err, "[Store.ClearTeamMember] repo.Write")
	}
	return nil
}

func (s *Store) getOptional(key string) (*string, error) {
	v, err := s.repo.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "[Store] repo.Get %s", key)
	}
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	return &v, nil
}

func (s *Store) getUser() (*UserProfile, error) {
	raw, err := s.getOptional(KeyUser)
	if err != nil || raw == nil {
		return nil, err
	}
	var user UserProfile
	if err := json.Unmarshal([]byte(*raw), &user); err != nil {
		log.Warn().Str("key", KeyUser).Msg("ignoring unreadable user record")
		return nil, nil
	}
	return &user, nil
}

func (s *Store) getMeta() (*sessionMeta, error) {
	raw, err := s.getOptional(KeySessionMeta)
	if err != nil || raw == nil {
		return nil, err
	}
	var meta sessionMeta
	if err := json.Unmarshal([]byte(*raw), &meta); err != nil {
		log.Warn().Str("key", KeySessionMeta).Msg("ignoring unreadable session metadata")
		return nil, nil
	}
	return &meta, nil
}

func mergeProfile(current, update *UserProfile) *UserProfile {
	if current == nil {
		cp := *update
		return &cp
	}
	merged := *current
	merged.ID = utils.FirstNonEmpty(update.ID, current.ID)
	merged.Email = utils.FirstNonEmpty(update.Email, current.Email)
	merged.Name = utils.FirstNonEmpty(update.Name, current.Name)
	merged.Phone = utils.FirstNonEmpty(update.Phone, current.Phone)
	merged.Role = utils.FirstNonEmpty(update.Role, current.Role)
	merged.Timezone = utils.FirstNonEmpty(update.Timezone, current.Timezone)
	merged.SettingID = utils.FirstNonEmpty(update.SettingID, current.SettingID)
	return &merged
}
