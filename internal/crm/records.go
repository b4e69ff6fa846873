package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrInvalidRecord reports a request that was rejected before reaching Salesforce.
	ErrInvalidRecord = errors.New("crm: invalid record")
	// ErrRecordNotFound reports a lookup that matched no record.
	ErrRecordNotFound = errors.New("crm: record not found")
)

const (
	accountContactFields = "Id, FirstName, LastName, Email, Phone, MobilePhone, MailingStreet, MailingCity, MailingState, MailingPostalCode, MailingCountry, Title, Department"
	accountFields        = "Id, Name, Phone, Website, BillingStreet, BillingCity, BillingState, BillingPostalCode, BillingCountry, Description"
	commentTimeLayout    = "2006-01-02 15:04:05"
	defaultTaskStatus    = "Not Started"
)

// Account is a Salesforce Account. Name is the only required field.
type Account struct {
	ID                 string    `json:"Id,omitempty"`
	Name               string    `json:"Name"`
	AccountNumber      string    `json:"AccountNumber,omitempty"`
	Site               string    `json:"Site,omitempty"`
	AccountSource      string    `json:"AccountSource,omitempty"`
	AnnualRevenue      float64   `json:"AnnualRevenue,omitempty"`
	NumberOfEmployees  int       `json:"NumberOfEmployees,omitempty"`
	Industry           string    `json:"Industry,omitempty"`
	Type               string    `json:"Type,omitempty"`
	Rating             string    `json:"Rating,omitempty"`
	Ownership          string    `json:"Ownership,omitempty"`
	ParentID           string    `json:"ParentId,omitempty"`
	Phone              string    `json:"Phone,omitempty"`
	Fax                string    `json:"Fax,omitempty"`
	Website            string    `json:"Website,omitempty"`
	Description        string    `json:"Description,omitempty"`
	TickerSymbol       string    `json:"TickerSymbol,omitempty"`
	YearStarted        string    `json:"YearStarted,omitempty"`
	BillingStreet      string    `json:"BillingStreet,omitempty"`
	BillingCity        string    `json:"BillingCity,omitempty"`
	BillingState       string    `json:"BillingState,omitempty"`
	BillingPostalCode  string    `json:"BillingPostalCode,omitempty"`
	BillingCountry     string    `json:"BillingCountry,omitempty"`
	ShippingStreet     string    `json:"ShippingStreet,omitempty"`
	ShippingCity       string    `json:"ShippingCity,omitempty"`
	ShippingState      string    `json:"ShippingState,omitempty"`
	ShippingPostalCode string    `json:"ShippingPostalCode,omitempty"`
	ShippingCountry    string    `json:"ShippingCountry,omitempty"`
	Contacts           []Contact `json:"Contacts,omitempty"`
}

// TaskRequest is a follow-up Task attached to a contact.
type TaskRequest struct {
	Subject      string `json:"Subject"`
	Status       string `json:"Status,omitempty"`
	Description  string `json:"Description,omitempty"`
	Priority     string `json:"Priority,omitempty"`
	ActivityDate string `json:"ActivityDate,omitempty"`
	Type         string `json:"Type,omitempty"`
	WhoID        string `json:"WhoId,omitempty"`
}

// CreateAccount inserts an Account and returns its id.
func (c *SalesforceClient) CreateAccount(ctx context.Context, account Account) (string, error) {
	if strings.TrimSpace(account.Name) == "" {
		return "", fmt.Errorf("create account: name is required: %w", ErrInvalidRecord)
	}
	account.ID = ""
	account.Contacts = nil
	id, err := c.insert(ctx, "Account", account)
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// CreateContact inserts a Contact, linked to accountID when it is set.
func (c *SalesforceClient) CreateContact(ctx context.Context, contact Contact, accountID string) (string, error) {
	if strings.TrimSpace(contact.FirstName) == "" || strings.TrimSpace(contact.LastName) == "" {
		return "", fmt.Errorf("create contact: first and last name are required: %w", ErrInvalidRecord)
	}
	contact.ID = ""
	if accountID != "" {
		if !validRecordID(accountID) {
			return "", fmt.Errorf("create contact: account %q: %w", accountID, ErrInvalidRecord)
		}
		contact.AccountID = accountID
	}
	id, err := c.insert(ctx, "Contact", contact)
	if err != nil {
		return "", fmt.Errorf("create contact: %w", err)
	}
	return id, nil
}

// AppendContactComment adds a timestamped comment after the contact's
// existing comments. A non-empty description replaces the current one.
func (c *SalesforceClient) AppendContactComment(ctx context.Context, contactID, comment, description string) error {
	if !validRecordID(contactID) {
		return fmt.Errorf("update comments %q: %w", contactID, ErrInvalidRecord)
	}
	if strings.TrimSpace(comment) == "" {
		return fmt.Errorf("update comments: comment is required: %w", ErrInvalidRecord)
	}
	path := "sobjects/Contact/" + url.PathEscape(contactID)

	var existing Contact
	if err := c.do(ctx, http.MethodGet, path+"?fields=Id,Comments", nil, &existing); err != nil {
		return fmt.Errorf("update comments %s: %w", contactID, err)
	}
	entry := fmt.Sprintf("[%s] %s", c.now().Format(commentTimeLayout), comment)
	comments := entry
	if existing.Comments != "" {
		comments = existing.Comments + "\n\n" + entry
	}

	update := map[string]string{"Comments": comments}
	if description != "" {
		update["Description"] = description
	}
	if err := c.do(ctx, http.MethodPatch, path, update, nil); err != nil {
		return fmt.Errorf("update comments %s: %w", contactID, err)
	}
	return nil
}

// CreateContactTask inserts a Task for the contact. Status defaults to
// "Not Started".
func (c *SalesforceClient) CreateContactTask(ctx context.Context, contactID string, task TaskRequest) (string, error) {
	if !validRecordID(contactID) {
		return "", fmt.Errorf("create contact task %q: %w", contactID, ErrInvalidRecord)
	}
	if strings.TrimSpace(task.Subject) == "" {
		return "", fmt.Errorf("create contact task: subject is required: %w", ErrInvalidRecord)
	}
	task.WhoID = contactID
	if task.Status == "" {
		task.Status = defaultTaskStatus
	}
	if task.ActivityDate != "" {
		if _, err := time.Parse(time.DateOnly, task.ActivityDate); err != nil {
			return "", fmt.Errorf("create contact task: activity date %q: %w", task.ActivityDate, ErrInvalidRecord)
		}
	}
	id, err := c.insert(ctx, "Task", task)
	if err != nil {
		return "", fmt.Errorf("create contact task: %w", err)
	}
	return id, nil
}

// GetAccountWithContacts reads an Account and its Contacts in one SOQL query.
func (c *SalesforceClient) GetAccountWithContacts(ctx context.Context, accountID string) (Account, error) {
	if !validRecordID(accountID) {
		return Account{}, fmt.Errorf("get account %q: %w", accountID, ErrInvalidRecord)
	}
	soql := "SELECT " + accountFields + ", (SELECT " + accountContactFields + " FROM Contacts) FROM Account WHERE Id = '" + accountID + "'"

	var out struct {
		TotalSize int `json:"totalSize"`
		Records   []struct {
			Account
			Contacts *struct {
				Records []Contact `json:"records"`
			} `json:"Contacts"`
		} `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "query?q="+url.QueryEscape(soql), nil, &out); err != nil {
		return Account{}, fmt.Errorf("get account %s: %w", accountID, err)
	}
	if len(out.Records) == 0 {
		return Account{}, fmt.Errorf("get account %s: %w", accountID, ErrRecordNotFound)
	}
	rec := out.Records[0]
	account := rec.Account
	account.Contacts = nil
	if rec.Contacts != nil {
		account.Contacts = rec.Contacts.Records
	}
	return account, nil
}

// validRecordID accepts Salesforce ids, which are alphanumeric and at most
// 18 characters. Ids are interpolated into SOQL and URL paths.
func validRecordID(id string) bool {
	if id == "" || len(id) > 18 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
