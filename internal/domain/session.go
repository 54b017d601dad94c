package domain

import (
	"fmt"
	"time"
)

// SessionRequest is the device/app fingerprint posted to start a session.
type SessionRequest struct {
	Platform       string `json:"platform"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	DoNotRecord    bool   `json:"doNotRecord"`
	ProjectKey     string `json:"projectKey"`
	TrackerVersion string `json:"trackerVersion"`
	RevID          string `json:"revID"`
	UserUUID       string `json:"userUUID"`
	UserOSVersion  string `json:"userOSVersion"`
	UserDevice     string `json:"userDevice"`
	UserDeviceType string `json:"userDeviceType"`
	Timestamp      int64  `json:"timestamp"`
	DeviceMemory   int64  `json:"deviceMemory"`
	Timezone       string `json:"timezone"`
}

// SessionResponse is the backend's answer to a session start.
type SessionResponse struct {
	UserUUID       string   `json:"userUUID"`
	Token          string   `json:"token"`
	ImagesHashList []string `json:"imagesHashList,omitempty"`
	SessionID      string   `json:"sessionID"`
	FPS            int      `json:"fps"`
	Quality        string   `json:"quality"`
	ProjectID      string   `json:"projectID"`
}

// Session is the live recording session owned by the delivery client.
// Producers hold copies and treat them as read-only.
type Session struct {
	ID         string
	Token      string
	ProjectKey string
	ProjectID  string
	UserUUID   string
	StartedAt  time.Time
	FPS        int
	Quality    string
}

// NewSession builds a Session from a negotiation response.
func NewSession(resp SessionResponse, projectKey string, startedAt time.Time) *Session {
	return &Session{
		ID:         resp.SessionID,
		Token:      resp.Token,
		ProjectKey: projectKey,
		ProjectID:  resp.ProjectID,
		UserUUID:   resp.UserUUID,
		StartedAt:  startedAt,
		FPS:        resp.FPS,
		Quality:    resp.Quality,
	}
}

// DeviceInfo describes the host device for session negotiation.
type DeviceInfo struct {
	Platform   string
	Width      int
	Height     int
	OSVersion  string
	Device     string
	DeviceType string
	MemoryMB   int64
}

// FormatTimezone renders the UTC offset of t as "UTC+HH:MM".
func FormatTimezone(t time.Time) string {
	_, offset := t.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, offset/3600, (offset%3600)/60)
}
