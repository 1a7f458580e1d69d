package okta

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dhawalhost/dirsync/internal/provider"
)

func TestFetchUsersFollowsLinkHeader(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "SSWS test-token" {
			t.Errorf("Authorization = %q, want SSWS test-token", auth)
		}
		switch {
		case r.URL.Path == "/api/v1/users" && r.URL.Query().Get("after") == "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/users?after=u1&limit=200>; rel="next"`, server.URL))
			w.Header().Add("Link", fmt.Sprintf(`<%s/api/v1/users?limit=200>; rel="self"`, server.URL))
			fmt.Fprint(w, `[{"id": "u1", "status": "ACTIVE",
				"profile": {"email": "ada@example.com", "firstName": "Ada", "lastName": "Lovelace"}}]`)
		case r.URL.Path == "/api/v1/users":
			fmt.Fprint(w, `[{"id": "u2", "status": "DEPROVISIONED",
				"profile": {"email": "grace@example.com", "firstName": "Grace", "lastName": "Hopper"}}]`)
		case r.URL.Path == "/api/v1/users/u1/groups":
			fmt.Fprint(w, `[{"id": "g1", "profile": {"name": "Engineering"}}]`)
		case r.URL.Path == "/api/v1/users/u2/groups":
			fmt.Fprint(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewWithBaseURL(server.URL, "test-token")
	users, err := client.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers() error = %v", err)
	}

	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if !users[0].Active {
		t.Error("ACTIVE user should be active")
	}
	if users[1].Active {
		t.Error("DEPROVISIONED user should be inactive")
	}
	if len(users[0].Groups) != 1 || users[0].Groups[0] != "g1" {
		t.Errorf("users[0].Groups = %v, want [g1]", users[0].Groups)
	}
	if users[0].DisplayName != "Ada Lovelace" {
		t.Errorf("DisplayName = %q, want composed name", users[0].DisplayName)
	}
}

func TestFetchDeltaChangesFiltersByLastUpdated(t *testing.T) {
	var gotFilter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/users":
			gotFilter = r.URL.Query().Get("filter")
			fmt.Fprint(w, `[{"id": "u1", "status": "ACTIVE", "lastUpdated": "2026-08-30T10:00:00.000Z",
				"profile": {"email": "ada@example.com"}}]`)
		case "/api/v1/users/u1/groups":
			fmt.Fprint(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewWithBaseURL(server.URL, "test-token")
	delta, err := client.FetchDeltaChanges(context.Background(), "2026-08-29T00:00:00.000Z")
	if err != nil {
		t.Fatalf("FetchDeltaChanges() error = %v", err)
	}

	want := `lastUpdated gt "2026-08-29T00:00:00.000Z"`
	if gotFilter != want {
		t.Errorf("filter = %q, want %q", gotFilter, want)
	}
	if len(delta.UserChanges) != 1 {
		t.Fatalf("got %d changes, want 1", len(delta.UserChanges))
	}
	if delta.UserChanges[0].Operation != provider.OpUpdate {
		t.Errorf("Operation = %q, want update", delta.UserChanges[0].Operation)
	}
	// The cursor advances to the max lastUpdated seen.
	if delta.NewDeltaLink != "2026-08-30T10:00:00.000Z" {
		t.Errorf("NewDeltaLink = %q, want the record's lastUpdated", delta.NewDeltaLink)
	}
}

func TestFetchDeltaChangesEmptyFeedAdvancesCursorToNow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	client := NewWithBaseURL(server.URL, "test-token")
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return fixed }

	delta, err := client.FetchDeltaChanges(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchDeltaChanges() error = %v", err)
	}
	if delta.NewDeltaLink != "2026-08-30T12:00:00.000Z" {
		t.Errorf("NewDeltaLink = %q, want now", delta.NewDeltaLink)
	}
}
