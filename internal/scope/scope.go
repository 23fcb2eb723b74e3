// Package scope implements the canonical scope and scoped-key model: the
// pure, synchronous layer every other package in this module builds on.
package scope

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Kind discriminates the isolation domain a Scope belongs to.
type Kind int

const (
	Global Kind = iota
	Agent
	Workflow
	Session
	Tool
	User
	Tenant
	Custom
)

func (k Kind) String() string {
	switch k {
	case Global:
		return "global"
	case Agent:
		return "agent"
	case Workflow:
		return "workflow"
	case Session:
		return "session"
	case Tool:
		return "tool"
	case User:
		return "user"
	case Tenant:
		return "tenant"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// Scope is a tagged variant identifying an isolation domain. Two scopes are
// equal iff Kind and ID match byte-for-byte.
type Scope struct {
	Kind Kind
	ID   string
}

func NewGlobal() Scope               { return Scope{Kind: Global} }
func NewAgent(id string) Scope       { return Scope{Kind: Agent, ID: id} }
func NewWorkflow(id string) Scope    { return Scope{Kind: Workflow, ID: id} }
func NewSession(id string) Scope     { return Scope{Kind: Session, ID: id} }
func NewTool(id string) Scope        { return Scope{Kind: Tool, ID: id} }
func NewUser(id string) Scope        { return Scope{Kind: User, ID: id} }
func NewTenant(id string) Scope      { return Scope{Kind: Tenant, ID: id} }
func NewCustom(name string) Scope    { return Scope{Kind: Custom, ID: name} }

func (s Scope) Equal(other Scope) bool {
	return s.Kind == other.Kind && s.ID == other.ID
}

const reservedPrefixMarker = "_"

// reservedKeyPrefixes are sentinels a user_key may never begin with; these
// namespaces are reserved for internal bookkeeping keys (I2, §4.A).
var reservedKeyPrefixes = []string{reservedPrefixMarker, "hook_history:", "agent_state:"}

// ErrInvalidKey is returned (wrapped with a reason) whenever a scope or key
// violates the validation rules in §4.A. It is never returned bare.
type ErrInvalidKey struct {
	Reason string
}

func (e *ErrInvalidKey) Error() string { return fmt.Sprintf("invalid key: %s", e.Reason) }

func invalidKey(format string, args ...any) error {
	return &ErrInvalidKey{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidKey reports whether err is (or wraps) an ErrInvalidKey.
func IsInvalidKey(err error) bool {
	var ik *ErrInvalidKey
	return errors.As(err, &ik)
}

// CanonicalPrefix derives the scope's canonical string prefix. The mapping
// is stable and part of the on-disk contract: Global -> "global:",
// Agent(a) -> "agent:a:", Tenant(t) -> "tenant:t:", Custom(s) -> "s:".
func CanonicalPrefix(s Scope) (string, error) {
	if s.Kind == Global {
		return "global:", nil
	}
	if s.Kind == Custom {
		if err := validateCustomName(s.ID); err != nil {
			return "", err
		}
		return s.ID + ":", nil
	}
	if s.ID == "" {
		return "", invalidKey("scope %s requires a non-empty id", s.Kind)
	}
	return fmt.Sprintf("%s:%s:", s.Kind, s.ID), nil
}

func validateCustomName(name string) error {
	if name == "" {
		return invalidKey("custom scope name must be non-empty")
	}
	for _, r := range name {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			return invalidKey("custom scope name %q must be alphanumeric, '-' or '_'", name)
		}
	}
	return nil
}

const maxScopedKeyLen = 512

// validateUserKey applies the fixed rules from §4.A: reject empty, reject
// traversal, reject null byte, reject length > 512 bytes, reject reserved
// prefixes.
func validateUserKey(userKey string) error {
	if userKey == "" {
		return invalidKey("user key must be non-empty")
	}
	if strings.Contains(userKey, "..") || strings.Contains(userKey, "/") {
		return invalidKey("user key %q must not contain '/' or '..'", userKey)
	}
	if strings.ContainsRune(userKey, 0) {
		return invalidKey("user key contains a null byte")
	}
	if len(userKey) > maxScopedKeyLen {
		return invalidKey("user key exceeds %d bytes", maxScopedKeyLen)
	}
	for _, p := range reservedKeyPrefixes {
		if strings.HasPrefix(userKey, p) {
			return invalidKey("user key %q begins with reserved prefix %q", userKey, p)
		}
	}
	return nil
}

// ScopedKey forms the on-disk key "<scope_prefix>:<user_key>", validating
// both the scope and the user key before concatenation.
func ScopedKey(s Scope, userKey string) (string, error) {
	if err := validateUserKey(userKey); err != nil {
		return "", err
	}
	prefix, err := CanonicalPrefix(s)
	if err != nil {
		return "", err
	}
	full := prefix + userKey
	if len(full) > maxScopedKeyLen {
		return "", invalidKey("scoped key exceeds %d bytes", maxScopedKeyLen)
	}
	return full, nil
}

// BelongsTo reports whether scopedKey was formed under scope s.
func BelongsTo(scopedKey string, s Scope) bool {
	prefix, err := CanonicalPrefix(s)
	if err != nil {
		return false
	}
	return strings.HasPrefix(scopedKey, prefix)
}

// ExtractUserKey returns the user_key portion of scopedKey if it belongs to
// scope s, and false otherwise. It performs no I/O.
func ExtractUserKey(scopedKey string, s Scope) (string, bool) {
	prefix, err := CanonicalPrefix(s)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(scopedKey, prefix) {
		return "", false
	}
	return scopedKey[len(prefix):], true
}
