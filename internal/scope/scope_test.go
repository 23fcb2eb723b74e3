package scope

import "testing"

func TestCanonicalPrefix(t *testing.T) {
	cases := []struct {
		name string
		s    Scope
		want string
	}{
		{"global", NewGlobal(), "global:"},
		{"agent", NewAgent("a1"), "agent:a1:"},
		{"tenant", NewTenant("acme"), "tenant:acme:"},
		{"custom", NewCustom("batch-job"), "batch-job:"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := CanonicalPrefix(c.s)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want {
				t.Errorf("CanonicalPrefix(%+v) = %q, want %q", c.s, got, c.want)
			}
		})
	}
}

func TestCanonicalPrefix_MissingID(t *testing.T) {
	_, err := CanonicalPrefix(NewAgent(""))
	if !IsInvalidKey(err) {
		t.Fatalf("expected InvalidKey, got %v", err)
	}
}

func TestScopedKey_RoundTrip(t *testing.T) {
	s := NewAgent("a1")
	key, err := ScopedKey(s, "memory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "agent:a1:memory" {
		t.Errorf("got %q", key)
	}
	if !BelongsTo(key, s) {
		t.Errorf("expected key to belong to scope")
	}
	if BelongsTo(key, NewAgent("a2")) {
		t.Errorf("expected key to not belong to a2")
	}
	userKey, ok := ExtractUserKey(key, s)
	if !ok || userKey != "memory" {
		t.Errorf("ExtractUserKey = %q, %v", userKey, ok)
	}
}

func TestScopeIsolation_DistinctScopesNeverCollide(t *testing.T) {
	a1Key, _ := ScopedKey(NewAgent("a1"), "key")
	a2Key, _ := ScopedKey(NewAgent("a2"), "key")
	if a1Key == a2Key {
		t.Fatalf("distinct scopes produced colliding keys: %q", a1Key)
	}
}

func TestScopedKey_InvalidUserKeys(t *testing.T) {
	cases := []string{
		"",
		"../etc/passwd",
		"/abs/path",
		"a\x00b",
		"_internal",
		"hook_history:foo",
		"agent_state:foo",
	}
	for _, uk := range cases {
		t.Run(uk, func(t *testing.T) {
			_, err := ScopedKey(NewGlobal(), uk)
			if !IsInvalidKey(err) {
				t.Errorf("expected InvalidKey for %q, got %v", uk, err)
			}
		})
	}
}

func TestScopedKey_TooLong(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	_, err := ScopedKey(NewGlobal(), string(long))
	if !IsInvalidKey(err) {
		t.Fatalf("expected InvalidKey for overlong key, got %v", err)
	}
}

func TestCustomScope_NameValidation(t *testing.T) {
	if _, err := CanonicalPrefix(NewCustom("")); !IsInvalidKey(err) {
		t.Errorf("expected InvalidKey for empty custom name")
	}
	if _, err := CanonicalPrefix(NewCustom("has space")); !IsInvalidKey(err) {
		t.Errorf("expected InvalidKey for custom name with space")
	}
	if _, err := CanonicalPrefix(NewCustom("valid-name_1")); err != nil {
		t.Errorf("unexpected error for valid custom name: %v", err)
	}
}
