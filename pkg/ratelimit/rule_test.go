package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRule(t *testing.T, pattern string, limit int, window time.Duration) Rule {
	t.Helper()
	r, err := NewRule(pattern, limit, window)
	require.NoError(t, err)
	return r
}

func TestNewRule_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pattern string
		limit   int
		window  time.Duration
	}{
		{"zero limit", "/a", 0, 10 * time.Second},
		{"negative limit", "/a", -1, 10 * time.Second},
		{"zero window", "/a", 5, 0},
		{"sub-second window", "/a", 5, 500 * time.Millisecond},
		{"fractional window", "/a", 5, 1500 * time.Millisecond},
		{"bad pattern", "/a(", 5, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRule(tt.pattern, tt.limit, tt.window)
			assert.Error(t, err)
		})
	}
}

func TestRule_Matches_AnchoredAtStart(t *testing.T) {
	t.Parallel()
	r := mustRule(t, "/api/v1/search", 20, 10*time.Second)

	assert.True(t, r.Matches("/api/v1/search"))
	assert.True(t, r.Matches("/api/v1/search/films"))
	assert.False(t, r.Matches("/proxy/api/v1/search"))
	assert.False(t, Rule{}.Matches("/anything"))
}

func TestRuleSet_Pick(t *testing.T) {
	t.Parallel()
	search := mustRule(t, "^/api/v1/films/search", 20, 10*time.Second)
	films := mustRule(t, "^/api/v1/films", 60, time.Minute)
	rs, err := NewRuleSet([]Rule{search, films}, 5, 10*time.Second)
	require.NoError(t, err)

	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/films/search", search.Pattern},
		{"/api/v1/films/42", films.Pattern},
		{"/api/v1/ping", ".*"},
		{"/", ".*"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, rs.Pick(tt.path).Pattern)
		})
	}

	def := rs.Default()
	assert.Equal(t, 5, def.Limit)
	assert.Equal(t, int64(10), def.WindowSeconds())
}

func TestRuleSet_FirstMatchWins(t *testing.T) {
	t.Parallel()
	broad := mustRule(t, "^/api", 100, time.Minute)
	narrow := mustRule(t, "^/api/v1/search", 20, 10*time.Second)
	rs, err := NewRuleSet([]Rule{broad, narrow}, 5, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, broad.Pattern, rs.Pick("/api/v1/search").Pattern)
}

func TestNewRuleSet_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewRuleSet(nil, 0, 10*time.Second)
	assert.Error(t, err)

	_, err = NewRuleSet([]Rule{{Pattern: "/raw", Limit: 1, Window: time.Second}}, 5, 10*time.Second)
	assert.ErrorContains(t, err, "NewRule")
}

func TestRule_String_RoundTrips(t *testing.T) {
	t.Parallel()
	r := mustRule(t, "^/api/v1/search", 20, 10*time.Second)
	assert.Equal(t, "^/api/v1/search=20/10s", r.String())

	var rs Rules
	require.NoError(t, rs.UnmarshalText([]byte(r.String())))
	require.Len(t, rs, 1)
	assert.Equal(t, r.Pattern, rs[0].Pattern)
	assert.Equal(t, r.Limit, rs[0].Limit)
	assert.Equal(t, r.Window, rs[0].Window)
}

func TestRules_UnmarshalText(t *testing.T) {
	t.Parallel()
	var rs Rules
	require.NoError(t, rs.UnmarshalText([]byte(" ^/api/v1/search=20/10s ; ^/api/v1/films=60/60 ;")))

	require.Len(t, rs, 2)
	assert.Equal(t, "^/api/v1/search", rs[0].Pattern)
	assert.Equal(t, 20, rs[0].Limit)
	assert.Equal(t, 10*time.Second, rs[0].Window)
	assert.Equal(t, "^/api/v1/films", rs[1].Pattern)
	assert.Equal(t, time.Minute, rs[1].Window)
	assert.True(t, rs[1].Matches("/api/v1/films/1"))
}

func TestRules_UnmarshalText_PatternWithEquals(t *testing.T) {
	t.Parallel()
	var rs Rules
	require.NoError(t, rs.UnmarshalText([]byte("^/a\\?x=1=3/5s")))

	require.Len(t, rs, 1)
	assert.Equal(t, "^/a\\?x=1", rs[0].Pattern)
	assert.Equal(t, 3, rs[0].Limit)
}

func TestRules_UnmarshalText_Errors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"no-separator",
		"=5/10s",
		"/a=5",
		"/a=x/10s",
		"/a=5/soon",
		"/a=0/10s",
		"/a(=5/10s",
	} {
		t.Run(in, func(t *testing.T) {
			t.Parallel()
			var rs Rules
			assert.Error(t, rs.UnmarshalText([]byte(in)))
		})
	}
}

func TestRules_MarshalText(t *testing.T) {
	t.Parallel()
	rs := Rules{
		mustRule(t, "^/api/v1/search", 20, 10*time.Second),
		mustRule(t, "^/api/v1/films", 60, time.Minute),
	}

	text, err := rs.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "^/api/v1/search=20/10s;^/api/v1/films=60/60s", string(text))

	var back Rules
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, rs[1].String(), back[1].String())
}
