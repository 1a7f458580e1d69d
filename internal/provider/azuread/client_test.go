package azuread

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dhawalhost/dirsync/internal/provider"
)

func TestFetchUsersFollowsPagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/users" && r.URL.Query().Get("page") == "":
			fmt.Fprintf(w, `{
				"value": [{"id": "u1", "displayName": "Ada Lovelace", "givenName": "Ada",
				           "surname": "Lovelace", "mail": "ada@example.com", "accountEnabled": true}],
				"@odata.nextLink": %q
			}`, server.URL+"/users?page=2")
		case r.URL.Path == "/users":
			fmt.Fprint(w, `{
				"value": [{"id": "u2", "displayName": "Grace Hopper",
				           "userPrincipalName": "grace@example.com", "accountEnabled": false}]
			}`)
		case r.URL.Path == "/users/u1/memberOf":
			fmt.Fprint(w, `{"value": [
				{"id": "g1", "displayName": "Engineering", "@odata.type": "#microsoft.graph.group"},
				{"id": "role1", "displayName": "Global Admin", "@odata.type": "#microsoft.graph.directoryRole"}
			]}`)
		case r.URL.Path == "/users/u2/memberOf":
			fmt.Fprint(w, `{"value": []}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewWithEndpoint(server.URL, server.Client())
	users, err := client.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers() error = %v", err)
	}

	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0].Email != "ada@example.com" {
		t.Errorf("users[0].Email = %q, want ada@example.com", users[0].Email)
	}
	// Falls back to userPrincipalName when mail is empty.
	if users[1].Email != "grace@example.com" {
		t.Errorf("users[1].Email = %q, want grace@example.com", users[1].Email)
	}
	if users[1].Active {
		t.Error("users[1].Active = true, want false")
	}
	// Directory roles in memberOf are filtered out.
	if len(users[0].Groups) != 1 || users[0].Groups[0] != "g1" {
		t.Errorf("users[0].Groups = %v, want [g1]", users[0].Groups)
	}
}

func TestFetchDeltaChanges(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/delta" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{
			"value": [
				{"id": "u1", "displayName": "Ada Lovelace", "mail": "ada@example.com", "accountEnabled": true},
				{"id": "u2", "@removed": {"reason": "deleted"}}
			],
			"@odata.deltaLink": %q
		}`, server.URL+"/users/delta?$deltatoken=abc")
	}))
	defer server.Close()

	client := NewWithEndpoint(server.URL, server.Client())
	delta, err := client.FetchDeltaChanges(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchDeltaChanges() error = %v", err)
	}

	if len(delta.UserChanges) != 2 {
		t.Fatalf("got %d user changes, want 2", len(delta.UserChanges))
	}
	if delta.UserChanges[0].Operation != provider.OpUpdate {
		t.Errorf("change[0].Operation = %q, want update", delta.UserChanges[0].Operation)
	}
	if delta.UserChanges[0].User == nil || delta.UserChanges[0].User.Email != "ada@example.com" {
		t.Errorf("change[0] carries wrong user: %+v", delta.UserChanges[0].User)
	}
	if delta.UserChanges[1].Operation != provider.OpDelete {
		t.Errorf("change[1].Operation = %q, want delete", delta.UserChanges[1].Operation)
	}
	if delta.UserChanges[1].User != nil {
		t.Error("delete change should carry no user record")
	}
	if delta.NewDeltaLink == "" {
		t.Error("NewDeltaLink is empty")
	}
}

func TestFetchDeltaChangesResumesFromCursor(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("$deltatoken")
		fmt.Fprint(w, `{"value": [], "@odata.deltaLink": "next"}`)
	}))
	defer server.Close()

	client := NewWithEndpoint(server.URL, server.Client())
	cursor := server.URL + "/users/delta?%24deltatoken=tok123"
	if _, err := client.FetchDeltaChanges(context.Background(), cursor); err != nil {
		t.Fatalf("FetchDeltaChanges() error = %v", err)
	}
	if gotToken != "tok123" {
		t.Errorf("delta token = %q, want tok123", gotToken)
	}
}

func TestToUserKeepsRawAttributes(t *testing.T) {
	raw := json.RawMessage(`{"id": "u1", "mail": "ada@example.com", "department": "Research",
		"extensionAttributes": {"costCenter": "42"}}`)

	u, err := toUser(raw)
	if err != nil {
		t.Fatalf("toUser() error = %v", err)
	}
	ext, ok := u.Attributes["extensionAttributes"].(map[string]interface{})
	if !ok || ext["costCenter"] != "42" {
		t.Errorf("raw attributes not preserved: %+v", u.Attributes)
	}
}
