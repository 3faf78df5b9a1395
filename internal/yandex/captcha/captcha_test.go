package captcha

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/yandexreviewsync/internal/yandex/httpclient"
)

func TestDetect_FindsSitekeyFromCaptchaRequiredFlag(t *testing.T) {
	body := `{"captchaRequired":true,"key":"6Lc-abc123_XYZ"}`
	ch, ok := Detect(body)
	require.True(t, ok)
	assert.Equal(t, "6Lc-abc123_XYZ", ch.Sitekey)
}

func TestDetect_FindsSitekeyFromCaptchaType(t *testing.T) {
	body := `{"type":"captcha","sitekey":"smart-key-1","captchaType":"smartCaptcha"}`
	ch, ok := Detect(body)
	require.True(t, ok)
	assert.Equal(t, "smart-key-1", ch.Sitekey)
	assert.Equal(t, "smartCaptcha", ch.CaptchaType)
}

func TestDetect_NoChallenge(t *testing.T) {
	_, ok := Detect(`{"totalCount":5,"reviews":[]}`)
	assert.False(t, ok)
}

func TestDetect_NonJSONBody(t *testing.T) {
	_, ok := Detect(`<html><body>no captcha here</body></html>`)
	assert.False(t, ok)
}

func TestResolveMethod_YandexForSmartCaptchaHints(t *testing.T) {
	assert.Equal(t, methodYandex, resolveMethod("smartCaptcha", "", "https://example.com/page"))
	assert.Equal(t, methodYandex, resolveMethod("", "smart_captcha", "https://example.com/page"))
	assert.Equal(t, methodYandex, resolveMethod("", "", "https://yandex.ru/maps/api/business/fetchReviews"))
}

func TestResolveMethod_RecaptchaOtherwise(t *testing.T) {
	assert.Equal(t, methodRecaptcha, resolveMethod("", "", "https://example.com/page"))
}

func TestSolve_SubmitsAndPollsUntilReady(t *testing.T) {
	pollCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			w.Write([]byte(`{"status":1,"request":"task-42"}`))
		case "/res.php":
			pollCount++
			if pollCount < 2 {
				w.Write([]byte(`{"status":0,"request":"CAPCHA_NOT_READY"}`))
				return
			}
			w.Write([]byte(`{"status":1,"request":"solved-token"}`))
		}
	}))
	defer srv.Close()

	h := New(httpclient.New(nil), "test-key", srv.URL)
	h.pollInterval = time.Millisecond

	token, err := h.Solve("sitekey-1", "https://example.com/page", "", "")
	require.NoError(t, err)
	assert.Equal(t, "solved-token", token)
	assert.GreaterOrEqual(t, pollCount, 2)
}

func TestSolve_SubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":0,"request":"ERROR_WRONG_USER_KEY"}`))
	}))
	defer srv.Close()

	h := New(httpclient.New(nil), "bad-key", srv.URL)
	_, err := h.Solve("sitekey-1", "https://example.com/page", "", "")
	assert.Error(t, err)
}

func TestSolve_UsesYandexMethodAndSitekeyParamForSmartCaptcha(t *testing.T) {
	var gotMethod, gotParam string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			gotMethod = r.URL.Query().Get("method")
			gotParam = r.URL.Query().Get("sitekey")
			w.Write([]byte(`{"status":1,"request":"task-1"}`))
		case "/res.php":
			w.Write([]byte(`{"status":1,"request":"solved-token"}`))
		}
	}))
	defer srv.Close()

	h := New(httpclient.New(nil), "test-key", srv.URL)
	h.pollInterval = time.Millisecond

	_, err := h.Solve("sitekey-1", "https://yandex.ru/maps/org/123/reviews/", "smartCaptcha", "")
	require.NoError(t, err)
	assert.Equal(t, methodYandex, gotMethod)
	assert.Equal(t, "sitekey-1", gotParam)
}

func TestParseSolverResponse(t *testing.T) {
	r, err := parseSolverResponse([]byte(`{"status":1,"request":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "abc", r.Request)
}
