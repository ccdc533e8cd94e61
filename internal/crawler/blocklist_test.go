package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostBlocklist(t *testing.T) {
	t.Parallel()

	t.Run("exact match", func(t *testing.T) {
		t.Parallel()
		bl := newHostBlocklist([]string{"Example.org"})
		require.NotNil(t, bl)
		require.True(t, bl.blockedHost("example.org"))
		require.False(t, bl.blockedHost("sub.example.org"))
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		t.Parallel()
		bl := newHostBlocklist([]string{"*.ru", ".internal"})
		require.NotNil(t, bl)
		cases := map[string]bool{
			"example.ru":        true,
			"sub.domain.ru":     true,
			"ru":                true,
			"svc.internal":      true,
			"example.com":       false,
			"notru.example.com": false,
		}
		for host, want := range cases {
			require.Equal(t, want, bl.blockedHost(host), host)
		}
	})

	t.Run("urls", func(t *testing.T) {
		t.Parallel()
		bl := newHostBlocklist([]string{"ads.example.com"})
		require.True(t, bl.blockedURL("https://ads.example.com:8443/x"))
		require.False(t, bl.blockedURL("https://example.com/"))
	})

	t.Run("empty and nil", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, newHostBlocklist([]string{" ", ""}))
		var bl *hostBlocklist
		require.False(t, bl.blockedHost("anything"))
		require.False(t, bl.blockedURL("https://anything"))
	})
}
