package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func fastClient(hc *http.Client) *Client {
	return NewClient(Config{HTTPClient: hc, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond})
}

func TestGet_SuccessSendsParamsAndUserAgent(t *testing.T) {
	var gotQuery, gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	body, err := fastClient(ts.Client()).Get(context.Background(), "web", ts.URL, url.Values{"q": {"cat food app"}}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, "cat food app", gotQuery)
	assert.Equal(t, DefaultUserAgent, gotUA)
}

func TestGet_TimeoutRetriedUpToThreeAttempts(t *testing.T) {
	var calls int32
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, context.DeadlineExceeded
	})}

	_, err := fastClient(hc).Get(context.Background(), "patent", "http://example.invalid/search", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGet_ConnectionErrorThenSuccess(t *testing.T) {
	var calls int32
	hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		}
		rec := httptest.NewRecorder()
		rec.WriteString("<response/>")
		return rec.Result(), nil
	})}

	body, err := fastClient(hc).Get(context.Background(), "patent", "http://example.invalid/search", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "<response/>", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGet_StatusErrorIsNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := fastClient(ts.Client()).Get(context.Background(), "web", ts.URL, nil, time.Second)
	require.Error(t, err)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindStatus, fe.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGet_NonTransientRequestErrorIsNotRetried(t *testing.T) {
	var calls int32
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("unsupported protocol scheme")
	})}

	_, err := fastClient(hc).Get(context.Background(), "web", "http://example.invalid", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, KindRequest, KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGet_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		return nil, context.DeadlineExceeded
	})}
	c := NewClient(Config{HTTPClient: hc, InitialInterval: time.Second})

	_, err := c.Get(ctx, "web", "http://example.invalid", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDecodeHelpersReportParseKind(t *testing.T) {
	var v map[string]any
	err := DecodeJSON("web", []byte("{not json"), &v)
	assert.Equal(t, KindParse, KindOf(err))

	var x struct{}
	err = DecodeXML("patent", []byte("<unclosed>"), &x)
	assert.Equal(t, KindParse, KindOf(err))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(context.DeadlineExceeded))
	assert.True(t, isTransient(&net.DNSError{Err: "no such host", Name: "x"}))
	assert.False(t, isTransient(errors.New("boom")))
	assert.False(t, isTransient(context.Canceled))
}
