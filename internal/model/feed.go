package model

import (
	"sort"
	"time"
)

// FeedItem is a post read from the external feed. It is never persisted.
type FeedItem struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text"`
	Permalink string    `json:"permalink"`
}

// SortChronological orders items oldest first. Items sharing a timestamp are
// ordered by ID so repeated passes deliver them identically.
func SortChronological(items []FeedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
