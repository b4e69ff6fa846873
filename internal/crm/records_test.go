package crm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCreateAccount(t *testing.T) {
	f := newFakeSalesforce(t)
	c := newClientCredentialsClient(t, f)

	id, err := c.CreateAccount(context.Background(), Account{Name: "Analytical Engines", Industry: "Manufacturing", AnnualRevenue: 1.5e6})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if id != "001000000000001" {
		t.Fatalf("id = %q", id)
	}
	got := f.accounts[0]
	if got["Name"] != "Analytical Engines" || got["Industry"] != "Manufacturing" || got["AnnualRevenue"] != 1.5e6 {
		t.Fatalf("account = %v", got)
	}
	if _, ok := got["Website"]; ok {
		t.Fatalf("empty Website was sent: %v", got)
	}

	if _, err := c.CreateAccount(context.Background(), Account{Name: "  "}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("CreateAccount(no name) error = %v, want ErrInvalidRecord", err)
	}
	if len(f.accounts) != 1 {
		t.Fatalf("invalid account reached salesforce")
	}
}

func TestCreateContactLinksAccount(t *testing.T) {
	f := newFakeSalesforce(t)
	c := newClientCredentialsClient(t, f)
	ctx := context.Background()

	id, err := c.CreateContact(ctx, Contact{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}, "001BBB")
	if err != nil {
		t.Fatalf("CreateContact() error = %v", err)
	}
	if id != "003000000000001" {
		t.Fatalf("id = %q", id)
	}
	got := f.contacts[0]
	if got["AccountId"] != "001BBB" || got["Email"] != "ada@example.com" {
		t.Fatalf("contact = %v", got)
	}

	if _, err := c.CreateContact(ctx, Contact{FirstName: "Ada"}, ""); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("CreateContact(no last name) error = %v", err)
	}
	if _, err := c.CreateContact(ctx, Contact{FirstName: "Ada", LastName: "L"}, "001' OR Id != '"); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("CreateContact(bad account) error = %v", err)
	}
}

func TestAppendContactComment(t *testing.T) {
	f := newFakeSalesforce(t)
	c := newClientCredentialsClient(t, f)
	c.now = func() time.Time { return time.Date(2025, 3, 1, 9, 30, 5, 0, time.UTC) }
	ctx := context.Background()

	if err := c.AppendContactComment(ctx, "003AAA", "called, no answer", ""); err != nil {
		t.Fatalf("AppendContactComment() error = %v", err)
	}
	if got := f.patches[0]["Comments"]; got != "[2025-03-01 09:30:05] called, no answer" {
		t.Fatalf("Comments = %q", got)
	}
	if _, ok := f.patches[0]["Description"]; ok {
		t.Fatalf("empty description was sent")
	}

	f.mu.Lock()
	f.comments = "[2025-02-28 17:00:00] first contact"
	f.mu.Unlock()
	if err := c.AppendContactComment(ctx, "003AAA", "booked", "prefers mornings"); err != nil {
		t.Fatalf("AppendContactComment() error = %v", err)
	}
	want := "[2025-02-28 17:00:00] first contact\n\n[2025-03-01 09:30:05] booked"
	if got := f.patches[1]["Comments"]; got != want {
		t.Fatalf("Comments = %q, want %q", got, want)
	}
	if got := f.patches[1]["Description"]; got != "prefers mornings" {
		t.Fatalf("Description = %v", got)
	}

	var apiErr *APIError
	if err := c.AppendContactComment(ctx, "003ZZZ", "x", ""); !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Fatalf("AppendContactComment(missing) error = %v", err)
	}
	if len(f.patches) != 2 {
		t.Fatalf("patches = %d, want 2", len(f.patches))
	}
}

func TestCreateContactTaskDefaultsStatus(t *testing.T) {
	f := newFakeSalesforce(t)
	c := newClientCredentialsClient(t, f)
	ctx := context.Background()

	if _, err := c.CreateContactTask(ctx, "003AAA", TaskRequest{Subject: "Send brochure", ActivityDate: "2025-03-04", Priority: "High"}); err != nil {
		t.Fatalf("CreateContactTask() error = %v", err)
	}
	task := f.tasks[0]
	if task["WhoId"] != "003AAA" || task["Status"] != "Not Started" || task["Priority"] != "High" || task["ActivityDate"] != "2025-03-04" {
		t.Fatalf("task = %v", task)
	}

	if _, err := c.CreateContactTask(ctx, "003AAA", TaskRequest{}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("CreateContactTask(no subject) error = %v", err)
	}
	if _, err := c.CreateContactTask(ctx, "003AAA", TaskRequest{Subject: "x", ActivityDate: "next week"}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("CreateContactTask(bad date) error = %v", err)
	}
}

func TestGetAccountWithContacts(t *testing.T) {
	f := newFakeSalesforce(t)
	c := newClientCredentialsClient(t, f)
	ctx := context.Background()

	account, err := c.GetAccountWithContacts(ctx, "001BBB")
	if err != nil {
		t.Fatalf("GetAccountWithContacts() error = %v", err)
	}
	if account.ID != "001BBB" || account.Name != "Analytical Engines" {
		t.Fatalf("account = %+v", account)
	}
	if len(account.Contacts) != 2 || account.Contacts[1].FullName() != "Charles Babbage" {
		t.Fatalf("contacts = %+v", account.Contacts)
	}
	if q := f.queries[0]; !strings.Contains(q, "FROM Contacts") || !strings.HasSuffix(q, "WHERE Id = '001BBB'") {
		t.Fatalf("query = %q", q)
	}

	if _, err := c.GetAccountWithContacts(ctx, "001ZZZ"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("GetAccountWithContacts(missing) error = %v, want ErrRecordNotFound", err)
	}
	if _, err := c.GetAccountWithContacts(ctx, "x' OR Name != '"); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("GetAccountWithContacts(injection) error = %v, want ErrInvalidRecord", err)
	}
	if len(f.queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(f.queries))
	}
}

func TestValidRecordID(t *testing.T) {
	tests := map[string]bool{
		"003AAA":              true,
		"0015g00000XyZabAAB":  true,
		"":                    false,
		"0015g00000XyZabAABC": false,
		"003/../Account":      false,
		"001' OR '1'='1":      false,
	}
	for id, want := range tests {
		if got := validRecordID(id); got != want {
			t.Fatalf("validRecordID(%q) = %v, want %v", id, got, want)
		}
	}
}
