package store

import "time"

// Source is a persisted Yandex Maps organization: the anchor row every
// Review belongs to.
type Source struct {
	ID             string
	OrganizationID string
	Name           string
	URL            string
	Rating         float64
	TotalReviews   int
	LastSyncedAt   time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Review is a single persisted review, materialized from a review.Raw.
type Review struct {
	ID                 string
	SourceID           string
	YandexID           string
	Author             string
	Rating             int
	Text               string
	Branch             string
	PublishedAt        time.Time
	ContentFingerprint string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
