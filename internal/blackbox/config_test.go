package blackbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
modules:
  icmp:
    prober: icmp
    timeout: 10s
    icmp:
      preferred_ip_protocol: "ip4"
      ip_protocol_fallback: true
`

func TestValidate_DefaultConfig(t *testing.T) {
	cfg, err := Validate([]byte(DefaultConfigFile))
	require.NoError(t, err)

	require.Len(t, cfg.Modules, 3)
	assert.Equal(t, "http", cfg.Modules["http_2xx"].Prober)
	assert.Equal(t, "tcp", cfg.Modules["tcp_connect"].Prober)
	assert.Equal(t, 10*time.Second, cfg.Modules["icmp"].Timeout)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg, err := Validate([]byte(validConfig))
	require.NoError(t, err)

	module := cfg.Modules["icmp"]
	assert.Equal(t, "icmp", module.Prober)
	assert.Equal(t, 10*time.Second, module.Timeout)
	assert.Equal(t, "ip4", module.Params["preferred_ip_protocol"])
	assert.Equal(t, true, module.Params["ip_protocol_fallback"])
}

func TestValidate_InvalidYAML(t *testing.T) {
	_, err := Validate([]byte("modules:\nsomething\n    somethingelse:\n"))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidate_MissingModulesSection(t *testing.T) {
	payload := `
tcp_connect:
  prober: tcp
  timeout: 10s
`
	_, err := Validate([]byte(payload))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "modules", verr.Path)
}

func TestValidate_UnknownProber(t *testing.T) {
	payload := `
modules:
  weird:
    prober: carrier-pigeon
    timeout: 10s
`
	_, err := Validate([]byte(payload))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "modules.weird.prober", verr.Path)
	assert.Contains(t, verr.Reason, "carrier-pigeon")
}

func TestValidate_MalformedTimeout(t *testing.T) {
	payload := `
modules:
  icmp:
    prober: icmp
    timeout: ten seconds
`
	_, err := Validate([]byte(payload))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "modules.icmp.timeout", verr.Path)
}

func TestValidate_MismatchedParamBlock(t *testing.T) {
	payload := `
modules:
  icmp:
    prober: icmp
    timeout: 10s
    http:
      valid_status_codes: [200]
`
	_, err := Validate([]byte(payload))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "modules.icmp.http", verr.Path)
}

func TestValidate_UnknownKey(t *testing.T) {
	payload := `
modules:
  icmp:
    prober: icmp
    interval: 10s
`
	_, err := Validate([]byte(payload))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "modules.icmp.interval", verr.Path)
}

func TestValidate_DNSQueryName(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		wantErr string
	}{
		{
			name:   "valid query name",
			params: "query_name: example.com\n      query_type: A",
		},
		{
			name:    "missing query name",
			params:  "query_type: A",
			wantErr: "modules.lookup.dns.query_name",
		},
		{
			name:    "empty query name",
			params:  `query_name: ""`,
			wantErr: "modules.lookup.dns.query_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := "modules:\n  lookup:\n    prober: dns\n    timeout: 5s\n    dns:\n      " + tt.params + "\n"
			_, err := Validate([]byte(payload))

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Path)
		})
	}
}

func TestValidate_AllOrNothing(t *testing.T) {
	// One invalid module among valid ones rejects the entire payload.
	payload := `
modules:
  http_2xx:
    prober: http
    timeout: 10s
  tcp_connect:
    prober: tcp
    timeout: 10s
  broken:
    prober: smoke-signal
  icmp:
    prober: icmp
    timeout: 10s
`
	cfg, err := Validate([]byte(payload))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Nil(t, cfg, "no partial configuration may be returned")
}
