package chatwire

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareDefaultHeaders(t *testing.T) {
	c := New(Config{})

	pr, err := c.prepare(http.MethodGet, "/users/@me", nil)
	require.NoError(t, err)

	assert.Contains(t, pr.header.Get("User-Agent"), "ChatwireBot")
	assert.Equal(t, "gzip, deflate", pr.header.Get("Accept-Encoding"))
	assert.Empty(t, pr.header.Get("Authorization"))
}

func TestPrepareCallerHeaderWins(t *testing.T) {
	c := New(Config{})

	pr, err := c.prepare(http.MethodGet, "/users/@me", &RequestOptions{
		Headers: http.Header{"User-Agent": []string{"custom-agent"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "custom-agent", pr.header.Get("User-Agent"))
}

func TestPrepareUserAgentSuffix(t *testing.T) {
	c := New(Config{UserAgentSuffix: "myapp/1.0"})

	pr, err := c.prepare(http.MethodGet, "/users/@me", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(pr.header.Get("User-Agent"), "myapp/1.0"))
}

func TestPrepareAuthKinds(t *testing.T) {
	cases := []struct {
		name string
		kind TokenKind
		want string
	}{
		{"default is bot", "", "Bot tok-123"},
		{"bot", TokenBot, "Bot tok-123"},
		{"bearer", TokenBearer, "Bearer tok-123"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(Config{Token: "tok-123", TokenKind: tc.kind})
			pr, err := c.prepare(http.MethodGet, "/users/@me", &RequestOptions{Auth: true})
			require.NoError(t, err)
			assert.Equal(t, tc.want, pr.header.Get("Authorization"))
		})
	}
}

func TestPrepareAuthWithoutToken(t *testing.T) {
	c := New(Config{})

	_, err := c.prepare(http.MethodGet, "/users/@me", &RequestOptions{Auth: true})
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestPrepareJSONBody(t *testing.T) {
	c := New(Config{})

	pr, err := c.prepare(http.MethodPost, "/channels/1/messages", &RequestOptions{
		Body: map[string]any{"content": "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", pr.header.Get("Content-Type"))
	assert.JSONEq(t, `{"content":"hi"}`, string(pr.body))
	assert.Nil(t, pr.bodyStream)
}

func TestPrepareRawBodyPassthrough(t *testing.T) {
	c := New(Config{})
	raw := []byte{0x01, 0x02, 0xff}

	pr, err := c.prepare(http.MethodPost, "/channels/1/messages", &RequestOptions{Body: raw})
	require.NoError(t, err)

	assert.Equal(t, raw, pr.body)
	assert.Empty(t, pr.header.Get("Content-Type"), "raw buffers must not get a Content-Type injected")
}

func TestPrepareStringBody(t *testing.T) {
	c := New(Config{})

	pr, err := c.prepare(http.MethodPost, "/channels/1/messages", &RequestOptions{Body: "plain text"})
	require.NoError(t, err)

	assert.Equal(t, []byte("plain text"), pr.body)
	assert.Empty(t, pr.header.Get("Content-Type"))
}

func TestPreparePreEncodedJSONBody(t *testing.T) {
	c := New(Config{})

	pr, err := c.prepare(http.MethodPost, "/channels/1/messages", &RequestOptions{
		Body: json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)

	assert.Equal(t, []byte(`{"a":1}`), pr.body)
	assert.Empty(t, pr.header.Get("Content-Type"), "pre-encoded bodies pass through unchanged")
}

func TestPrepareStreamBody(t *testing.T) {
	c := New(Config{Timeout: 5 * time.Second})
	stream := bytes.NewReader([]byte("streamed"))

	pr, err := c.prepare(http.MethodPost, "/channels/1/messages", &RequestOptions{Body: io.Reader(stream)})
	require.NoError(t, err)

	assert.Nil(t, pr.body)
	assert.NotNil(t, pr.bodyStream)
	assert.Zero(t, pr.timeout, "streaming-body requests use an unbounded budget")
}

func TestPrepareVersionPrefixAndQuery(t *testing.T) {
	c := New(Config{})

	pr, err := c.prepare(http.MethodGet, "/guilds/9/members", &RequestOptions{
		Query: url.Values{"limit": []string{"5"}, "after": []string{"10"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v7/guilds/9/members?after=10&limit=5", pr.path)
}

func TestPrepareBucketKeyFromUnprefixedRoute(t *testing.T) {
	c := New(Config{Version: 9})

	pr, err := c.prepare(http.MethodGet, "/channels/123/messages/456", nil)
	require.NoError(t, err)

	assert.Equal(t, "channels/123", pr.bucketKey, "version prefix must not affect bucket identity")
	assert.Equal(t, "/api/v9/channels/123/messages/456", pr.path)
}

func TestPrepareUnbucketedRoute(t *testing.T) {
	c := New(Config{})

	pr, err := c.prepare(http.MethodGet, "/sticker-packs", nil)
	require.NoError(t, err)

	assert.Empty(t, pr.bucketKey)
}

func TestPrepareTimeoutDefaulting(t *testing.T) {
	c := New(Config{Timeout: 2 * time.Second})

	pr, err := c.prepare(http.MethodGet, "/users/@me", nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, pr.timeout)

	pr, err = c.prepare(http.MethodGet, "/users/@me", &RequestOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, time.Second, pr.timeout, "per-request timeout overrides the client default")
}

func TestPrepareIsPure(t *testing.T) {
	c := New(Config{Token: "tok"})
	opts := &RequestOptions{
		Headers: http.Header{"X-Custom": []string{"v"}},
		Auth:    true,
	}

	a, err := c.prepare(http.MethodGet, "/channels/5", opts)
	require.NoError(t, err)
	b, err := c.prepare(http.MethodGet, "/channels/5", opts)
	require.NoError(t, err)

	assert.Equal(t, a.path, b.path)
	assert.Equal(t, a.header, b.header)
	assert.Len(t, opts.Headers, 1, "prepare must not mutate caller options")
	assert.Empty(t, opts.Headers.Get("Authorization"))
}

func TestCanReplay(t *testing.T) {
	assert.True(t, (&preparedRequest{body: []byte("x")}).canReplay())
	assert.True(t, (&preparedRequest{}).canReplay())
	assert.True(t, (&preparedRequest{bodyStream: bytes.NewReader([]byte("x"))}).canReplay(),
		"seekable streams can be rewound and replayed")
	assert.False(t, (&preparedRequest{bodyStream: bytes.NewBufferString("x")}).canReplay(),
		"non-seekable streams cannot be replayed")
}
