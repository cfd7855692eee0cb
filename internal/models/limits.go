package models

import "time"

// UserLimit holds the per-user quota counters. It is only ever changed inside a
// read-modify-write transaction.
type UserLimit struct {
	UserID              string `firestore:"userId" json:"userId"`
	ConversationsToday  int    `firestore:"conversationsToday" json:"conversationsToday"`
	LastResetDateBucket string `firestore:"lastResetDateBucket" json:"lastResetDateBucket"`
	MessagesThisHour    int    `firestore:"messagesThisHour" json:"messagesThisHour"`
	LastResetHourBucket int64  `firestore:"lastResetHourBucket" json:"lastResetHourBucket"`

	// Generative calls made on behalf of the user.
	RequestsThisHour      int   `firestore:"requestsThisHour" json:"requestsThisHour"`
	LastRequestHourBucket int64 `firestore:"lastRequestHourBucket" json:"lastRequestHourBucket"`
	TotalRequests         int64 `firestore:"totalRequests" json:"totalRequests"`

	UpdatedAt time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// Conversation is the subset of the client-owned conversation document the pipeline touches.
type Conversation struct {
	ID           string    `firestore:"-" json:"id"`
	UserID       string    `firestore:"userId" json:"userId"`
	MessageCount int       `firestore:"messageCount" json:"messageCount"`
	UpdatedAt    time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// DayBucket identifies the UTC calendar day containing t.
func DayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// HourBucket identifies the UTC hour containing t as hours since the Unix epoch.
func HourBucket(t time.Time) int64 {
	return t.Unix() / 3600
}
