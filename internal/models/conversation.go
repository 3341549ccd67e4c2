package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConversationStatus is the lifecycle state of a support conversation.
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "OPEN"
	StatusAssigned ConversationStatus = "ASSIGNED"
	StatusClosed   ConversationStatus = "CLOSED"
)

// Active reports whether the conversation can still receive messages.
func (s ConversationStatus) Active() bool {
	return s == StatusOpen || s == StatusAssigned
}

// Conversation represents a support chat between a customer and the shop.
type Conversation struct {
	ID                 string             `json:"id"`
	Status             ConversationStatus `json:"status"`
	AssignedStaffName  string             `json:"assignedStaffName,omitempty"`
	LastMessageContent string             `json:"lastMessageContent,omitempty"`
	LastMessageAt      time.Time          `json:"lastMessageAt"`
	UnreadCount        int64              `json:"unreadCount"`
}

// UnmarshalJSON accepts numeric ids and zone-less timestamps as sent by the storefront.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID                 json.RawMessage    `json:"id"`
		Status             ConversationStatus `json:"status"`
		AssignedStaffName  *string            `json:"assignedStaffName"`
		LastMessageContent *string            `json:"lastMessageContent"`
		LastMessageAt      *string            `json:"lastMessageAt"`
		UnreadCount        *int64             `json:"unreadCount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, err := DecodeID(raw.ID)
	if err != nil {
		return fmt.Errorf("conversation id: %w", err)
	}
	*c = Conversation{
		ID:                 id,
		Status:             raw.Status,
		AssignedStaffName:  deref(raw.AssignedStaffName),
		LastMessageContent: deref(raw.LastMessageContent),
	}
	if raw.UnreadCount != nil {
		c.UnreadCount = *raw.UnreadCount
	}
	if raw.LastMessageAt != nil {
		c.LastMessageAt, _ = ParseTimestamp(*raw.LastMessageAt)
	}
	return nil
}

// Message represents a single chat message within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Content        string    `json:"content"`
	MessageType    string    `json:"messageType,omitempty"`
	SentAt         time.Time `json:"sentAt"`
	IsRead         bool      `json:"isRead"`
	IsAIGenerated  bool      `json:"isAiGenerated"`
}

// UnmarshalJSON decodes the storefront DTO, where ids are JSON numbers and
// sentAt has no zone.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             json.RawMessage `json:"id"`
		ConversationID json.RawMessage `json:"conversationId"`
		SenderID       json.RawMessage `json:"senderId"`
		SenderName     *string         `json:"senderName"`
		Content        *string         `json:"content"`
		MessageType    *string         `json:"messageType"`
		SentAt         *string         `json:"sentAt"`
		IsRead         *bool           `json:"isRead"`
		IsAIGenerated  *bool           `json:"isAiGenerated"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	out := Message{
		SenderName:  deref(raw.SenderName),
		Content:     deref(raw.Content),
		MessageType: deref(raw.MessageType),
	}
	if out.ID, err = DecodeID(raw.ID); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	if out.ConversationID, err = DecodeID(raw.ConversationID); err != nil {
		return fmt.Errorf("conversation id: %w", err)
	}
	if out.SenderID, err = DecodeID(raw.SenderID); err != nil {
		return fmt.Errorf("sender id: %w", err)
	}
	if raw.SentAt != nil {
		out.SentAt, _ = ParseTimestamp(*raw.SentAt)
	}
	if raw.IsRead != nil {
		out.IsRead = *raw.IsRead
	}
	if raw.IsAIGenerated != nil {
		out.IsAIGenerated = *raw.IsAIGenerated
	}

	*m = out
	return nil
}

// User is the authenticated storefront customer.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email,omitempty"`
}

// UnmarshalJSON accepts a numeric user id.
func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        json.RawMessage `json:"id"`
		FirstName *string         `json:"firstname"`
		LastName  *string         `json:"lastname"`
		Email     *string         `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := DecodeID(raw.ID)
	if err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*u = User{
		ID:        id,
		FirstName: deref(raw.FirstName),
		LastName:  deref(raw.LastName),
		Email:     deref(raw.Email),
	}
	return nil
}

// DisplayName joins first and last name.
func (u User) DisplayName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
