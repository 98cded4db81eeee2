package tds

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPort is the SQL Server port used when a descriptor omits one.
const DefaultPort = 1433

// Well-known dialect option keys.
const (
	// OptionInstanceName selects a named instance; it suppresses the port.
	OptionInstanceName = "instanceName"

	// OptionDomain enables integrated (NTLM) authentication for the domain.
	OptionDomain = "domain"

	// OptionDebug attaches the protocol trace listener during the handshake.
	OptionDebug = "debug"
)

// Authentication types understood by transports.
const (
	AuthDefault = "default"
	AuthNTLM    = "ntlm"
)

// Descriptor is the generic description of a connection target.
// It is read-only for the duration of one connect attempt.
type Descriptor struct {
	Host     string         `yaml:"host" json:"host"`
	Port     int            `yaml:"port" json:"port,omitempty"`
	Username string         `yaml:"username" json:"username"`
	Password string         `yaml:"password" json:"-"`
	Database string         `yaml:"database" json:"database"`
	Options  map[string]any `yaml:"options" json:"options,omitempty"`
}

// TransportOptions is the protocol-specific form of a Descriptor,
// built once per attempt by Translate.
type TransportOptions struct {
	Server   string
	UserName string
	Password string
	Database string

	// Port is zero when no explicit port is set (always the case for
	// named instances).
	Port int

	// Domain is set at the top level for integrated authentication.
	Domain string

	// Authentication is AuthDefault or AuthNTLM.
	Authentication string

	// Options is the nested sub-options group. Keys are passed through
	// verbatim to the transport.
	Options map[string]any
}

// Translate derives TransportOptions from a descriptor.
//
// Rules, in order:
//  1. Copy username, password, host, port and database.
//  2. If an instance name is present, drop the port.
//  3. If a domain is present, lift it to the top level (not nested).
//  4. Copy every other option verbatim into the sub-options group.
//
// Translate never fails; invalid combinations surface during the handshake.
// The descriptor's option map is not modified.
func Translate(d Descriptor) TransportOptions {
	opts := TransportOptions{
		Server:         d.Host,
		UserName:       d.Username,
		Password:       d.Password,
		Database:       d.Database,
		Port:           d.Port,
		Authentication: AuthDefault,
		Options:        make(map[string]any, len(d.Options)),
	}

	if present(d.Options, OptionInstanceName) {
		opts.Port = 0
	}

	for key, value := range d.Options {
		if key == OptionDomain {
			if present(d.Options, OptionDomain) {
				opts.Domain = fmt.Sprint(value)
				opts.Authentication = AuthNTLM
			}
			continue
		}
		opts.Options[key] = value
	}

	return opts
}

// InstanceName returns the named instance, or "" when none is set.
func (o TransportOptions) InstanceName() string {
	if !present(o.Options, OptionInstanceName) {
		return ""
	}
	return fmt.Sprint(o.Options[OptionInstanceName])
}

// Debug reports whether protocol tracing was requested.
func (o TransportOptions) Debug() bool {
	v, ok := o.Options[OptionDebug]
	return ok && truthy(v)
}

// Address returns a printable target for logs: host[:port][\instance].
func (o TransportOptions) Address() string {
	addr := o.Server
	if o.Port != 0 {
		addr += ":" + strconv.Itoa(o.Port)
	}
	if inst := o.InstanceName(); inst != "" {
		addr += `\` + inst
	}
	return addr
}

// present reports whether key exists with a non-empty value.
func present(options map[string]any, key string) bool {
	v, ok := options[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// truthy interprets a loosely typed flag value from YAML or JSON.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case map[string]any:
		// grouped flags ({packet: true, token: false}) count when any member is set
		for _, inner := range t {
			if truthy(inner) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
