package compiler

import "fmt"

// HAProxyGroupLabel is the label the load balancer uses to pick up apps.
const HAProxyGroupLabel = "HAPROXY_GROUP"

// DefaultHAProxyGroupValue is the load balancer group for internal traffic.
const DefaultHAProxyGroupValue = "internal"

// LabelPolicy decides which apps receive the HAProxy group label.
type LabelPolicy string

const (
	// LabelAlways labels every app exposing at least one endpoint.
	LabelAlways LabelPolicy = "always"
	// LabelNever never labels.
	LabelNever LabelPolicy = "never"
	// LabelWhenTargeted labels an app only when a connects-to relationship
	// somewhere in the topology targets one of its endpoints.
	LabelWhenTargeted LabelPolicy = "when_targeted"
)

// ParseLabelPolicy parses a policy name. The empty string selects LabelAlways.
func ParseLabelPolicy(s string) (LabelPolicy, error) {
	switch LabelPolicy(s) {
	case "", LabelAlways:
		return LabelAlways, nil
	case LabelNever, LabelWhenTargeted:
		return LabelPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown label policy %q", s)
	}
}

// ErrorPolicy decides what CompileGroup does when a node fails.
type ErrorPolicy string

const (
	// AbortOnError stops at the first failing node.
	AbortOnError ErrorPolicy = "abort"
	// SkipOnError leaves failing nodes out of the group and reports them
	// in a *GroupError.
	SkipOnError ErrorPolicy = "skip"
)

// ParseErrorPolicy parses a policy name. The empty string selects AbortOnError.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(s) {
	case "", AbortOnError:
		return AbortOnError, nil
	case SkipOnError:
		return SkipOnError, nil
	default:
		return "", fmt.Errorf("unknown error policy %q", s)
	}
}

// Config holds the compiler policies.
type Config struct {
	HAProxyGroup      LabelPolicy
	HAProxyGroupValue string

	// EndpointEnv injects <TARGET>_<CAPABILITY>_PORT variables for every
	// connects-to relationship of an app.
	EndpointEnv bool

	OnNodeError ErrorPolicy
}

// DefaultConfig returns the compiler defaults.
func DefaultConfig() Config {
	return Config{
		HAProxyGroup:      LabelAlways,
		HAProxyGroupValue: DefaultHAProxyGroupValue,
		OnNodeError:       AbortOnError,
	}
}

func (c Config) withDefaults() Config {
	if c.HAProxyGroup == "" {
		c.HAProxyGroup = LabelAlways
	}
	if c.HAProxyGroupValue == "" {
		c.HAProxyGroupValue = DefaultHAProxyGroupValue
	}
	if c.OnNodeError == "" {
		c.OnNodeError = AbortOnError
	}
	return c
}
