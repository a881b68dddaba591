// Package blackbox validates and manages the blackbox exporter module
// configuration. Validation is all-or-nothing: a payload with any invalid
// module is rejected as a whole and never partially applied.
package blackbox

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"
)

// Probers is the closed set of prober kinds the exporter supports.
var Probers = map[string]bool{
	"http": true,
	"tcp":  true,
	"icmp": true,
	"dns":  true,
	"grpc": true,
}

// DefaultConfigFile is the module configuration written when the operator
// supplies none.
const DefaultConfigFile = `modules:
  http_2xx:
    prober: http
    timeout: 10s
  tcp_connect:
    prober: tcp
    timeout: 10s
  icmp:
    prober: icmp
    timeout: 10s
    icmp:
      preferred_ip_protocol: "ip4"
      ip_protocol_fallback: true
`

// ValidationError reports a schema violation at a specific key path, so the
// operator sees a precise blocked reason instead of a generic parse failure.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Module is one accepted prober definition.
type Module struct {
	Prober  string
	Timeout time.Duration
	Params  map[string]any // Prober-specific parameter block, if any
}

// Config is a fully validated module configuration.
type Config struct {
	Modules map[string]Module
}

// Validate parses and validates a raw module configuration payload. It
// returns the accepted configuration, or a *ValidationError naming the
// offending key path. No partial results are ever returned.
func Validate(raw []byte) (*Config, error) {
	var file struct {
		Modules map[string]yaml.Node `yaml:"modules"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if len(file.Modules) == 0 {
		return nil, &ValidationError{Path: "modules", Reason: "a non-empty modules mapping is required"}
	}

	cfg := &Config{Modules: make(map[string]Module, len(file.Modules))}
	for name, node := range file.Modules {
		module, err := validateModule(name, &node)
		if err != nil {
			return nil, err
		}
		cfg.Modules[name] = module
	}

	return cfg, nil
}

func validateModule(name string, node *yaml.Node) (Module, error) {
	path := "modules." + name

	var fields map[string]yaml.Node
	if err := node.Decode(&fields); err != nil {
		return Module{}, &ValidationError{Path: path, Reason: "module must be a mapping"}
	}

	var module Module
	var paramsNode *yaml.Node
	var paramsKey string

	for key := range fields {
		value := fields[key]
		switch {
		case key == "prober":
			if err := value.Decode(&module.Prober); err != nil {
				return Module{}, &ValidationError{Path: path + ".prober", Reason: "prober must be a string"}
			}
		case key == "timeout":
			var timeout string
			if err := value.Decode(&timeout); err != nil {
				return Module{}, &ValidationError{Path: path + ".timeout", Reason: "timeout must be a duration string"}
			}
			d, err := time.ParseDuration(timeout)
			if err != nil {
				return Module{}, &ValidationError{Path: path + ".timeout", Reason: fmt.Sprintf("malformed duration %q", timeout)}
			}
			module.Timeout = d
		case Probers[key]:
			if paramsNode != nil {
				return Module{}, &ValidationError{Path: path, Reason: "only one prober parameter block is allowed"}
			}
			v := value
			paramsNode = &v
			paramsKey = key
		default:
			return Module{}, &ValidationError{Path: path + "." + key, Reason: "unknown key"}
		}
	}

	if module.Prober == "" {
		return Module{}, &ValidationError{Path: path + ".prober", Reason: "prober is required"}
	}
	if !Probers[module.Prober] {
		return Module{}, &ValidationError{Path: path + ".prober", Reason: fmt.Sprintf("unknown prober %q", module.Prober)}
	}

	if paramsNode != nil {
		if paramsKey != module.Prober {
			return Module{}, &ValidationError{
				Path:   path + "." + paramsKey,
				Reason: fmt.Sprintf("parameter block %q does not match prober %q", paramsKey, module.Prober),
			}
		}
		if err := paramsNode.Decode(&module.Params); err != nil {
			return Module{}, &ValidationError{Path: path + "." + paramsKey, Reason: "parameter block must be a mapping"}
		}
		if module.Prober == "dns" {
			if err := validateDNSParams(path+".dns", module.Params); err != nil {
				return Module{}, err
			}
		}
	}

	return module, nil
}

// validateDNSParams checks the dns prober's query_name, which the exporter
// cannot probe without.
func validateDNSParams(path string, params map[string]any) error {
	raw, ok := params["query_name"]
	if !ok {
		return &ValidationError{Path: path + ".query_name", Reason: "query_name is required for the dns prober"}
	}
	name, ok := raw.(string)
	if !ok || name == "" {
		return &ValidationError{Path: path + ".query_name", Reason: "query_name must be a non-empty string"}
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return &ValidationError{Path: path + ".query_name", Reason: fmt.Sprintf("%q is not a valid domain name", name)}
	}
	return nil
}
