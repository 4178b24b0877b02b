// Package messages defines the commands and events exchanged between the
// order API and the worker.
package messages

import (
	"time"

	"github.com/google/uuid"
)

// Message types carried in the envelope.
const (
	TypeOrderMessage = "orderflow.commands.OrderMessage"
	TypeNotification = "orderflow.events.Notification"
)

// Message is a payload that can travel in an envelope.
type Message interface {
	MessageType() string
}

// OrderMessage is the command sent when an order is placed.
type OrderMessage struct {
	OrderID     uuid.UUID `json:"orderId"`
	OrderAmount float64   `json:"orderAmount"`
	OrderNumber string    `json:"orderNumber"`
	OrderDate   time.Time `json:"orderDate"`
}

// MessageType implements Message.
func (OrderMessage) MessageType() string { return TypeOrderMessage }

// Notification is the event emitted once a customer has been notified.
type Notification struct {
	NotificationID string    `json:"notificationId"`
	Type           string    `json:"notificationType"`
	Content        string    `json:"notificationContent"`
	Address        string    `json:"notificationAddress"`
	Date           time.Time `json:"notificationDate"`
	OrderID        uuid.UUID `json:"orderId"`
}

// MessageType implements Message.
func (Notification) MessageType() string { return TypeNotification }

// Notification types.
const (
	NotificationEmail   = "email"
	NotificationWebhook = "webhook"
)
