package types

import "time"

// Profile is the persisted, user-editable record associated 1:1 with a
// session's user id. JSON tags match the stored document field names.
type Profile struct {
	UserID      string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Bio         string    `json:"bio"`
	AvatarURL   string    `json:"avatarUrl"`
	Reputation  int       `json:"reputation"`
	Badges      []string  `json:"badges"`
	Following   []string  `json:"following"`
	Followers   []string  `json:"followers"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UpdateProfileParams defines the fields allowed for profile updates.
// Pointers distinguish "not provided" from an explicit empty value, so
// upserts only merge-write the fields the caller actually set.
type UpdateProfileParams struct {
	DisplayName *string `json:"displayName,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}
