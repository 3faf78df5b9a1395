package orchestrate

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/yandexreviewsync/internal/yandex/httpclient"
)

type neverExceeded struct{}

func (neverExceeded) Exceeded() bool { return false }

type alreadyExceeded struct{}

func (alreadyExceeded) Exceeded() bool { return true }

func singleReviewPage(id string) string {
	return fmt.Sprintf(`{"businessName":"Test Org","totalCount":9,"reviews":[{"reviewId":"%s","text":"t","rating":4}]}`, id)
}

func TestRun_DedupsAcrossEndpointsAndSorts(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		// Every endpoint/sort combination returns the *same* review id, so
		// the dedup layer should collapse them all into one accepted review.
		w.Write([]byte(singleReviewPage(fmt.Sprintf("shared-%d", n%1))))
	}))
	defer srv.Close()

	o := New(httpclient.New(nil), srv.URL)
	o.filterPassPause = time.Millisecond
	result, err := o.Run("org-1", SessionParams{}, nil, neverExceeded{})
	require.NoError(t, err)
	assert.Equal(t, "Test Org", result.OrganizationName)
	assert.Len(t, result.Reviews, 1)
}

func TestRun_StopsImmediatelyOnExpiredDeadline(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Write([]byte(singleReviewPage("x")))
	}))
	defer srv.Close()

	o := New(httpclient.New(nil), srv.URL)
	result, err := o.Run("org-1", SessionParams{}, nil, alreadyExceeded{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
	assert.Empty(t, result.Reviews)
}

func TestRun_CollectsDistinctReviewsAcrossCalls(t *testing.T) {
	var counter int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&counter, 1)
		w.Write([]byte(singleReviewPage(fmt.Sprintf("id-%d", n))))
	}))
	defer srv.Close()

	o := New(httpclient.New(nil), srv.URL)
	o.filterPassPause = time.Millisecond
	result, err := o.Run("org-1", SessionParams{}, nil, neverExceeded{})
	require.NoError(t, err)
	// 3 endpoints * 3 sorts = 9 distinct single-review sweeps before any
	// rating-filter fallback; every call here returns a never-before-seen
	// id so every one should be accepted.
	assert.True(t, len(result.Reviews) >= 9)
}
