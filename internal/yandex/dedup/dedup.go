// Package dedup implements the Acquisition Engine's two-level deduplication:
// by upstream review id, then by a content fingerprint for reviews that lack
// one. Membership is tracked with exact maps rather than a probabilistic
// filter (see DESIGN.md for why github.com/seiflotfy/cuckoofilter, present
// elsewhere in the corpus, is not a fit here: a false positive would
// silently drop a genuine unique review, violating the merge-size invariant
// in spec.md §8).
package dedup

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/klppl/yandexreviewsync/internal/yandex/review"
)

// Fingerprint returns the content fingerprint for a review:
// md5(lower(trim(author)) + "|" + lower(trim(text))). It is suppressed
// (returns "") when both fields are empty, matching spec.md §4.9.
func Fingerprint(author, text string) string {
	a := strings.ToLower(strings.TrimSpace(author))
	t := strings.ToLower(strings.TrimSpace(text))
	if a == "" && t == "" {
		return ""
	}
	sum := md5.Sum([]byte(a + "|" + t))
	return hex.EncodeToString(sum[:])
}

// Deduplicator accumulates reviews across passes, dropping a candidate
// whose id has already been seen or, when it carries no id, whose
// fingerprint has already been seen. It is append-only: once a
// review is accepted, a later duplicate can never displace it, preserving
// the "later-seen never overwrites earlier-seen" ordering guarantee from
// spec.md §5.
type Deduplicator struct {
	seenIDs          map[string]struct{}
	seenFingerprints map[string]struct{}
	accepted         []review.Raw
}

// New creates an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{
		seenIDs:          make(map[string]struct{}),
		seenFingerprints: make(map[string]struct{}),
	}
}

// Offer attempts to add r to the accumulator. Returns true if it was
// accepted (i.e. was not a duplicate by id or fingerprint).
func (d *Deduplicator) Offer(r review.Raw) bool {
	if r.YandexID != "" {
		if _, dup := d.seenIDs[r.YandexID]; dup {
			return false
		}
	} else {
		fp := Fingerprint(r.Author, r.Text)
		if fp != "" {
			if _, dup := d.seenFingerprints[fp]; dup {
				return false
			}
		}
	}

	if r.YandexID != "" {
		d.seenIDs[r.YandexID] = struct{}{}
	}
	if fp := Fingerprint(r.Author, r.Text); fp != "" {
		d.seenFingerprints[fp] = struct{}{}
	}
	d.accepted = append(d.accepted, r)
	return true
}

// Accepted returns every review accepted so far, in offer order.
func (d *Deduplicator) Accepted() []review.Raw {
	return d.accepted
}

// Len returns the number of accepted reviews.
func (d *Deduplicator) Len() int {
	return len(d.accepted)
}
