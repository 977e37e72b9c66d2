package browser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProxy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want ProxyDescriptor
	}{
		{
			name: "host port user pass",
			raw:  "1.2.3.4:8080:user:pass",
			want: ProxyDescriptor{Server: "http://1.2.3.4:8080", Username: "user", Password: "pass"},
		},
		{
			name: "host port user",
			raw:  "1.2.3.4:8080:user",
			want: ProxyDescriptor{Server: "http://1.2.3.4:8080", Username: "user"},
		},
		{
			name: "host port",
			raw:  "proxy.example.com:3128",
			want: ProxyDescriptor{Server: "http://proxy.example.com:3128"},
		},
		{
			name: "full url",
			raw:  "socks5://10.0.0.1:1080",
			want: ProxyDescriptor{Server: "socks5://10.0.0.1:1080"},
		},
		{
			name: "surrounding whitespace",
			raw:  "  1.2.3.4:8080  ",
			want: ProxyDescriptor{Server: "http://1.2.3.4:8080"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseProxy(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.want, *got)
		})
	}
}

func TestParseProxyRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := ParseProxy("")
	require.Error(t, err)
	_, err = ParseProxy("   ")
	require.Error(t, err)
}

func TestParseProxyListFailsFast(t *testing.T) {
	t.Parallel()

	_, err := ParseProxyList([]string{"1.2.3.4:8080", ""})
	require.Error(t, err)
	require.Contains(t, err.Error(), "proxy entry 1")
}

func TestProxyLabel(t *testing.T) {
	t.Parallel()

	var direct *ProxyDescriptor
	require.Equal(t, "direct", direct.Label())
	require.Equal(t, "http://1.2.3.4:8080", (&ProxyDescriptor{Server: "http://1.2.3.4:8080"}).Label())
}
