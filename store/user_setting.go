package store

// UserSettingKey identifies a persisted user preference.
type UserSettingKey string

const (
	// UserSettingChatMode stores the preferred chat mode ("online" or "offline").
	UserSettingChatMode UserSettingKey = "chat-mode"
)

type UserSetting struct {
	Key       UserSettingKey
	Value     string
	UpdatedTs int64
}

type FindUserSetting struct {
	Key UserSettingKey
}

type UpsertUserSetting struct {
	Key   UserSettingKey
	Value string
}
