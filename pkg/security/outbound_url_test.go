package security

import (
	"testing"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/stretchr/testify/require"
)

func TestValidateOutboundURL(t *testing.T) {
	local := OutboundURLOptions{AllowHTTP: true, AllowLocalNetworks: true}

	cases := []struct {
		url  string
		opts OutboundURLOptions
		ok   bool
	}{
		{"https://api.openai.com/v1", OutboundURLOptions{}, true},
		{"http://api.openai.com/v1", OutboundURLOptions{}, false},
		{"ftp://api.openai.com", local, false},
		{"https:///v1", local, false},
		{"http://localhost:11434/v1", OutboundURLOptions{AllowHTTP: true}, false},
		{"http://localhost:11434/v1", local, true},
		{"https://127.0.0.1/v1", OutboundURLOptions{}, false},
		{"https://10.0.0.8/v1", OutboundURLOptions{}, false},
		{"https://[fe80::1%25eth0]/", OutboundURLOptions{}, false},
		{"https://[fe80::1%25eth0]/", local, true},
		{"https://0.0.0.0/", local, false},
		{"https://printer.local/", OutboundURLOptions{}, false},
	}

	for _, c := range cases {
		err := ValidateOutboundURL("base-url", c.url, c.opts)
		if c.ok {
			require.NoError(t, err, c.url)
			continue
		}
		var verr *chaterr.ValidationError
		require.ErrorAs(t, err, &verr, c.url)
		require.Equal(t, "base-url", verr.Field)
	}
}
