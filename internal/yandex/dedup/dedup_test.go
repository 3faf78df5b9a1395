package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/klppl/yandexreviewsync/internal/yandex/review"
)

func TestFingerprint_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := Fingerprint("  Ivan  ", "Great place")
	b := Fingerprint("ivan", "  GREAT PLACE  ")
	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersByOneChar(t *testing.T) {
	a := Fingerprint("Ivan", "Great place")
	b := Fingerprint("Ivan", "Great placf")
	assert.NotEqual(t, a, b)
}

func TestFingerprint_EmptyBothSuppressed(t *testing.T) {
	assert.Equal(t, "", Fingerprint("", ""))
	assert.Equal(t, "", Fingerprint("  ", ""))
}

func TestDeduplicator_DropsByID(t *testing.T) {
	d := New()
	assert.True(t, d.Offer(review.Raw{YandexID: "1", Author: "a", Text: "x"}))
	assert.False(t, d.Offer(review.Raw{YandexID: "1", Author: "b", Text: "y"}))
	assert.Equal(t, 1, d.Len())
}

func TestDeduplicator_DropsByFingerprintWhenNoID(t *testing.T) {
	d := New()
	assert.True(t, d.Offer(review.Raw{Author: "Ivan", Text: "Great place"}))
	assert.False(t, d.Offer(review.Raw{Author: "ivan", Text: "  great place  "}))
	assert.Equal(t, 1, d.Len())
}

func TestDeduplicator_AppendOnlyOrdering(t *testing.T) {
	d := New()
	d.Offer(review.Raw{YandexID: "1", Text: "first"})
	d.Offer(review.Raw{YandexID: "2", Text: "second"})
	d.Offer(review.Raw{YandexID: "1", Text: "duplicate, should not overwrite"})
	got := d.Accepted()
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)
}

func TestDeduplicator_MergeSizeInvariant(t *testing.T) {
	// A: ids 1..5, B: ids 3..8 (overlap 3,4,5) -> merged unique count = 8.
	d := New()
	for i := 1; i <= 5; i++ {
		d.Offer(review.Raw{YandexID: itoa(i), Text: "body"})
	}
	for i := 3; i <= 8; i++ {
		d.Offer(review.Raw{YandexID: itoa(i), Text: "body"})
	}
	assert.Equal(t, 8, d.Len())
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var buf []byte
	for i > 0 {
		buf = append([]byte{digits[i%10]}, buf...)
		i /= 10
	}
	return string(buf)
}
