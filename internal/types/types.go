package types

import (
	"time"
)

// Sentiment is the label attached to a user's current emotional state.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
)

// Score maps a sentiment label onto the 0..1 scale used for room averages.
func (s Sentiment) Score() float64 {
	switch s {
	case SentimentPositive:
		return 1.0
	case SentimentNeutral:
		return 0.5
	case SentimentNegative:
		return 0.25
	case SentimentFrustrated:
		return 0.0
	default:
		return 0.5
	}
}

// RoomType selects the AI persona and conversational defaults for a room.
type RoomType string

const (
	RoomStudyGroup    RoomType = "study_group"
	RoomSupportCircle RoomType = "support_circle"
	RoomCasualLounge  RoomType = "casual_lounge"
	RoomTutorial      RoomType = "tutorial"
)

// MessageType distinguishes who authored a broadcast message.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeAI     MessageType = "ai"
	MessageTypeSystem MessageType = "system"
)

type User struct {
	Id          string `json:"id"`
	Username    string `json:"username"`
	AvatarStyle string `json:"avatar_style,omitempty"`
	AvatarColor string `json:"avatar_color,omitempty"`
}

// Message is the canonical chat message shape shared by the store,
// the prompt builder and the transport layer.
type Message struct {
	Id        string      `json:"message_id"`
	RoomId    string      `json:"room_id"`
	UserId    string      `json:"user_id,omitempty"`
	Username  string      `json:"username"`
	Content   string      `json:"message"`
	Type      MessageType `json:"message_type"`
	Sentiment Sentiment   `json:"sentiment,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type Room struct {
	Id         int       `json:"id"`
	ExternalId string    `json:"external_id"`
	Name       string    `json:"name"`
	Type       RoomType  `json:"room_type"`
	Persistent bool      `json:"persistent"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}
