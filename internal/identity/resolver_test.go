package identity

import (
	"context"
	"sync"
	"testing"

	"devos/identity/internal/store"
)

func newTestResolver() *Resolver {
	return NewResolver(store.NewMemorySubjectStore())
}

func googleProfile() Profile {
	return Profile{
		ID:       "google-123",
		Email:    "a@x.com",
		Name:     "Ada",
		Provider: "google",
		Avatar:   "https://example.com/a.png",
	}
}

func TestResolveCreatesSubject(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	subject, err := resolver.Resolve(ctx, googleProfile())
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if subject.ID == "" {
		t.Fatalf("expected a generated subject id")
	}
	if subject.Email != "a@x.com" {
		t.Fatalf("unexpected email %q", subject.Email)
	}
	if subject.ProviderIDs["google"] != "google-123" {
		t.Fatalf("provider id not recorded: %v", subject.ProviderIDs)
	}
	prefs := subject.Preferences
	if prefs.Theme != "dark" || !prefs.Notifications || prefs.WakeWord == "" {
		t.Fatalf("default preferences not applied: %+v", prefs)
	}
}

func TestResolveIsIdempotentPerEmail(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, googleProfile())
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	second, err := resolver.Resolve(ctx, googleProfile())
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same email must resolve to the same subject")
	}
}

func TestResolveNormalizesEmail(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, googleProfile())
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	upper := googleProfile()
	upper.Email = "  A@X.COM "
	second, err := resolver.Resolve(ctx, upper)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("email comparison must be case-insensitive")
	}
}

func TestResolveBackfillsSecondProvider(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, googleProfile())
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	github := Profile{
		ID:       "github-456",
		Email:    "a@x.com",
		Name:     "Ada",
		Provider: "github",
	}
	linked, err := resolver.Resolve(ctx, github)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if linked.ID != first.ID {
		t.Fatalf("second provider must link onto the existing subject")
	}
	if linked.ProviderIDs["google"] != "google-123" || linked.ProviderIDs["github"] != "github-456" {
		t.Fatalf("provider ids not linked: %v", linked.ProviderIDs)
	}
	if !linked.UpdatedAt.After(first.UpdatedAt) && !linked.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("updated timestamp must move forward")
	}
}

func TestResolveDoesNotOverwriteProviderID(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	if _, err := resolver.Resolve(ctx, googleProfile()); err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	changed := googleProfile()
	changed.ID = "google-999"
	subject, err := resolver.Resolve(ctx, changed)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if subject.ProviderIDs["google"] != "google-123" {
		t.Fatalf("an already-linked provider id must not be overwritten")
	}
}

func TestResolveForksOnDifferentEmail(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, googleProfile())
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	// Same human, different provider email. Email is the sole identity key,
	// so this forks an unrelated subject.
	other := Profile{ID: "github-456", Email: "b@y.com", Name: "Ada", Provider: "github"}
	forked, err := resolver.Resolve(ctx, other)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if forked.ID == first.ID {
		t.Fatalf("different emails must resolve to different subjects")
	}
}

func TestResolveMissingEmail(t *testing.T) {
	resolver := newTestResolver()

	profile := googleProfile()
	profile.Email = "   "
	if _, err := resolver.Resolve(context.Background(), profile); err != ErrMissingEmail {
		t.Fatalf("expected ErrMissingEmail, got %v", err)
	}
}

func TestResolveConcurrentSameEmail(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subject, err := resolver.Resolve(ctx, googleProfile())
			if err != nil {
				t.Errorf("resolve error: %v", err)
				return
			}
			ids[i] = subject.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent resolves forked duplicate subjects: %q != %q", ids[i], ids[0])
		}
	}
}

func TestUpdatePreferencesMergesPartial(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	subject, err := resolver.Resolve(ctx, googleProfile())
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	lang := "hi"
	updated, err := resolver.UpdatePreferences(ctx, subject.ID, PreferencesUpdate{Language: &lang})
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if updated.Preferences.Language != "hi" {
		t.Fatalf("language not updated: %+v", updated.Preferences)
	}
	if updated.Preferences.Theme != "dark" || !updated.Preferences.Notifications {
		t.Fatalf("unspecified fields must be untouched: %+v", updated.Preferences)
	}

	off := false
	wake := "jarvis"
	updated, err = resolver.UpdatePreferences(ctx, subject.ID, PreferencesUpdate{Notifications: &off, WakeWord: &wake})
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if updated.Preferences.Notifications || updated.Preferences.WakeWord != "jarvis" {
		t.Fatalf("partial update not applied: %+v", updated.Preferences)
	}
	if updated.Preferences.Language != "hi" {
		t.Fatalf("earlier update lost: %+v", updated.Preferences)
	}
}

func TestUpdatePreferencesUnknownSubject(t *testing.T) {
	resolver := newTestResolver()

	lang := "en"
	subject, err := resolver.UpdatePreferences(context.Background(), "missing", PreferencesUpdate{Language: &lang})
	if err != nil || subject != nil {
		t.Fatalf("expected nil for unknown subject, got %v / %v", subject, err)
	}
}

func TestLookup(t *testing.T) {
	resolver := newTestResolver()
	ctx := context.Background()

	subject, err := resolver.Resolve(ctx, googleProfile())
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	found, err := resolver.Lookup(ctx, subject.ID)
	if err != nil || found == nil || found.ID != subject.ID {
		t.Fatalf("lookup failed: %v / %v", found, err)
	}
	missing, err := resolver.Lookup(ctx, "missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown id")
	}
}
