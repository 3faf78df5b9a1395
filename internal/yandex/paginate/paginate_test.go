package paginate

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/yandexreviewsync/internal/yandex/captcha"
	"github.com/klppl/yandexreviewsync/internal/yandex/httpclient"
)

// reviewJSONPage renders n placeholder reviews plus a totalCount field, in
// the shape the JSON-endpoint normalizer strategy recognizes.
func reviewJSONPage(n, total int) string {
	items := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf(`{"reviewId":"r%d","text":"review %d","rating":5}`, i, i)
	}
	return fmt.Sprintf(`{"totalCount":%d,"reviews":[%s]}`, total, items)
}

// acceptAll simulates a caller with no duplicates: every review in the page
// is reported accepted.
func acceptAll(total *int) func(PageResult) (int, bool) {
	return func(pr PageResult) (int, bool) {
		*total += len(pr.Reviews)
		return len(pr.Reviews), true
	}
}

func TestWalk_StopsOnShortPage(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Write([]byte(reviewJSONPage(PageSize, 60)))
			return
		}
		w.Write([]byte(reviewJSONPage(10, 60)))
	}))
	defer srv.Close()

	p := New(httpclient.New(nil))
	var total int
	pages, err := p.Walk(Request{URL: srv.URL}, nil, acceptAll(&total))
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Equal(t, 60, total)
}

func TestWalk_StopsOnTotalCountSatisfied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(reviewJSONPage(PageSize, PageSize)))
	}))
	defer srv.Close()

	p := New(httpclient.New(nil))
	var total int
	pages, err := p.Walk(Request{URL: srv.URL}, nil, acceptAll(&total))
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestWalk_CallerStopsEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(reviewJSONPage(PageSize, 1000)))
	}))
	defer srv.Close()

	p := New(httpclient.New(nil))
	seen := 0
	pages, err := p.Walk(Request{URL: srv.URL}, nil, func(pr PageResult) (int, bool) {
		seen++
		return len(pr.Reviews), seen < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestWalk_CachesWorkingVariant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(reviewJSONPage(5, 5)))
	}))
	defer srv.Close()

	p := New(httpclient.New(nil))
	var total int
	_, err := p.Walk(Request{URL: srv.URL}, nil, acceptAll(&total))
	require.NoError(t, err)
	require.NotNil(t, p.workingVariant)

	p.ResetVariant()
	assert.Nil(t, p.workingVariant)
}

func TestWalk_SolvesCaptchaChallengeThenResumes(t *testing.T) {
	solverSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			w.Write([]byte(`{"status":1,"request":"task123"}`))
		case "/res.php":
			w.Write([]byte(`{"status":1,"request":"solved-token"}`))
		}
	}))
	defer solverSrv.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("g-recaptcha-response") == "solved-token" {
			w.Write([]byte(reviewJSONPage(5, 5)))
			return
		}
		w.Write([]byte(`{"captchaRequired":true,"key":"6LExxxSITEKEYxxx"}`))
	}))
	defer srv.Close()

	client := httpclient.New(nil)
	p := New(client)
	h := captcha.New(client, "test-key", solverSrv.URL)
	h.SetPollInterval(time.Millisecond)
	p.SetCaptchaSolver(h)

	var total int
	pages, err := p.Walk(Request{URL: srv.URL}, nil, acceptAll(&total))
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Equal(t, 5, total)
}

func TestWalk_BoundedByMaxPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(reviewJSONPage(PageSize, 0)))
	}))
	defer srv.Close()

	p := New(httpclient.New(nil))
	p.pageDelay = time.Millisecond
	var total int
	pages, err := p.Walk(Request{URL: srv.URL}, nil, acceptAll(&total))
	require.NoError(t, err)
	assert.Equal(t, MaxPages, pages)
}
