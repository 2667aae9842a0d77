package model

import "time"

// DeviceToken maps an APNs device token to the SocialTen user it belongs to.
// A token is unique across the store; re-registering it under another user
// moves it (same handset, new login).
type DeviceToken struct {
	UserID     string    `json:"userId"`
	Token      string    `json:"token"`
	DeviceName string    `json:"deviceName,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DeviceTokenView masks the raw token when listing devices to the console.
type DeviceTokenView struct {
	UserID     string `json:"userId"`
	Token      string `json:"token"`
	DeviceName string `json:"deviceName,omitempty"`
	Platform   string `json:"platform,omitempty"`
}
