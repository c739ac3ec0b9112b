package model

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// NotificationStatus is the delivery state of a notification.
type NotificationStatus string

const (
	NotificationSent NotificationStatus = "SENT"
	NotificationRead NotificationStatus = "READ"
)

// Notification is a single in-app notification addressed to a user.
type Notification struct {
	ID          uuid.UUID          `json:"id"`
	RequestID   uuid.UUID          `json:"requestId"`
	RecipientID uuid.UUID          `json:"recipientId"`
	Type        string             `json:"type"`
	Subject     string             `json:"subject,omitempty"`
	Text        string             `json:"text"`
	Status      NotificationStatus `json:"status"`
	CreatedTime int64              `json:"createdTime"`
	Info        json.RawMessage    `json:"info,omitempty"`
}

// NotificationUpdate describes a change to a user's notifications.
type NotificationUpdate struct {
	NotificationID   uuid.UUID          `json:"notificationId"`
	Created          bool               `json:"created"`
	Updated          bool               `json:"updated"`
	Notification     *Notification      `json:"notification,omitempty"`
	NewStatus        NotificationStatus `json:"newStatus,omitempty"`
	AllNotifications bool               `json:"allNotifications"`
	Deleted          bool               `json:"deleted"`
}

// NotificationRequestUpdate describes a change to a notification request
// that fans out to every recipient user of a tenant.
type NotificationRequestUpdate struct {
	NotificationRequestID uuid.UUID `json:"notificationRequestId"`
	Deleted               bool      `json:"deleted"`
}
