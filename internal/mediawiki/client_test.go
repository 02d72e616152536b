package mediawiki

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		APIURL:        srv.URL,
		HTTPClient:    srv.Client(),
		MinEditCount:  50,
		MinAccountAge: 7 * 24 * time.Hour,
	}
}

func TestLookupByName_Found(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("meta") != "globaluserinfo" || q.Get("guiuser") != "Example User" {
			t.Errorf("unexpected query: %v", q)
		}
		_, _ = w.Write([]byte(`{"query":{"globaluserinfo":{
			"id":42,"name":"Example User","registration":"2015-06-01T00:00:00Z",
			"merged":[{"wiki":"zhwiki","editcount":120,"registration":"2015-06-01T00:00:00Z"}]
		}}}`))
	})

	acct, err := c.LookupByName(context.Background(), "Example User")
	if err != nil {
		t.Fatalf("LookupByName: %v", err)
	}
	if acct.ID != 42 || acct.Name != "Example User" {
		t.Fatalf("account = %+v", acct)
	}
	if len(acct.Merged) != 1 || acct.Merged[0].EditCount != 120 {
		t.Fatalf("merged = %+v", acct.Merged)
	}
}

func TestLookupByName_Missing(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"query":{"globaluserinfo":{"missing":""}}}`))
	})

	if _, err := c.LookupByName(context.Background(), "Nobody"); !errors.Is(err, ErrAccountMissing) {
		t.Fatalf("err = %v, want ErrAccountMissing", err)
	}
}

func TestLookupByID_BadStatus(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := c.LookupByID(context.Background(), 42); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestEligible(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	fresh := now.Add(-time.Hour).Format(time.RFC3339)

	c := &Client{
		Wikis:         []string{"zhwiki"},
		MinEditCount:  50,
		MinAccountAge: 7 * 24 * time.Hour,
		Now:           func() time.Time { return now },
	}

	cases := []struct {
		name string
		acct Account
		want bool
	}{
		{
			"old active account on counted wiki",
			Account{Merged: []LocalAccount{{Wiki: "zhwiki", EditCount: 120, Registration: old}}},
			true,
		},
		{
			"too few edits",
			Account{Merged: []LocalAccount{{Wiki: "zhwiki", EditCount: 10, Registration: old}}},
			false,
		},
		{
			"too young",
			Account{Merged: []LocalAccount{{Wiki: "zhwiki", EditCount: 120, Registration: fresh}}},
			false,
		},
		{
			"active only on uncounted wiki",
			Account{Merged: []LocalAccount{{Wiki: "enwiki", EditCount: 500, Registration: old}}},
			false,
		},
		{
			"one qualifying attachment among several",
			Account{Merged: []LocalAccount{
				{Wiki: "enwiki", EditCount: 500, Registration: old},
				{Wiki: "zhwiki", EditCount: 51, Registration: old},
			}},
			true,
		},
		{
			"no attachments",
			Account{},
			false,
		},
	}

	for _, tc := range cases {
		if got := c.Eligible(&tc.acct); got != tc.want {
			t.Errorf("%s: Eligible = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEligible_AnyWikiWhenUnrestricted(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour).Format(time.RFC3339)

	c := &Client{
		MinEditCount:  50,
		MinAccountAge: 7 * 24 * time.Hour,
		Now:           func() time.Time { return now },
	}
	acct := Account{Merged: []LocalAccount{{Wiki: "enwiki", EditCount: 60, Registration: old}}}
	if !c.Eligible(&acct) {
		t.Fatalf("empty Wikis list should count any wiki")
	}
}

func TestCanonicalUsername(t *testing.T) {
	cases := map[string]string{
		"example_user":      "Example user",
		"  Example   User ": "Example User",
		"already Fine":      "Already Fine",
		"":                  "",
		"_":                 "",
		"数字":                "数字",
	}
	for in, want := range cases {
		if got := CanonicalUsername(in); got != want {
			t.Errorf("CanonicalUsername(%q) = %q; want %q", in, got, want)
		}
	}
}
