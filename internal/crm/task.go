package crm

import (
	"fmt"
	"strings"
	"time"
)

// CallTask is the activity logged against a contact when a call ends.
type CallTask struct {
	CallSID      string
	Status       string
	Description  string
	ContactID    string
	AccountID    string
	ActivityDate time.Time
}

func (t CallTask) fields() map[string]any {
	date := t.ActivityDate
	if date.IsZero() {
		date = time.Now()
	}
	f := map[string]any{
		"Subject":         "AI Voice Call - " + t.Status,
		"Status":          TaskStatus(t.Status),
		"TaskSubtype":     "Call",
		"CallType":        "Outbound",
		"CallDisposition": t.Status,
		"CallObject":      t.CallSID,
		"Description":     t.Description,
		"ActivityDate":    date.Format(time.DateOnly),
	}
	if t.ContactID != "" {
		f["WhoId"] = t.ContactID
	}
	if t.AccountID != "" {
		f["WhatId"] = t.AccountID
	}
	return f
}

// TaskStatus maps a Twilio call status onto a Salesforce Task status.
func TaskStatus(callStatus string) string {
	switch strings.ToLower(strings.TrimSpace(callStatus)) {
	case "completed", "completed-remote":
		return "Completed"
	case "in-progress", "ringing", "queued":
		return "In Progress"
	case "no-answer", "busy", "failed", "canceled":
		return "Not Answered"
	default:
		return "Not Started"
	}
}

// IsTerminalStatus reports whether a Twilio call status means the call is over.
func IsTerminalStatus(callStatus string) bool {
	switch strings.ToLower(strings.TrimSpace(callStatus)) {
	case "completed", "no-answer", "busy", "failed", "canceled", "completed-remote":
		return true
	default:
		return false
	}
}

// Contact is a Salesforce Contact as the dialer and the record API use it.
type Contact struct {
	ID                string `json:"Id,omitempty"`
	AccountID         string `json:"AccountId,omitempty"`
	FirstName         string `json:"FirstName,omitempty"`
	LastName          string `json:"LastName,omitempty"`
	Email             string `json:"Email,omitempty"`
	Phone             string `json:"Phone,omitempty"`
	MobilePhone       string `json:"MobilePhone,omitempty"`
	MailingStreet     string `json:"MailingStreet,omitempty"`
	MailingCity       string `json:"MailingCity,omitempty"`
	MailingState      string `json:"MailingState,omitempty"`
	MailingPostalCode string `json:"MailingPostalCode,omitempty"`
	MailingCountry    string `json:"MailingCountry,omitempty"`
	Title             string `json:"Title,omitempty"`
	Department        string `json:"Department,omitempty"`
	Birthdate         string `json:"Birthdate,omitempty"`
	Description       string `json:"Description,omitempty"`
	Comments          string `json:"Comments,omitempty"`
}

func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// PreferredPhone returns the mobile number when present, else the main phone.
func (c Contact) PreferredPhone() string {
	if p := strings.TrimSpace(c.MobilePhone); p != "" {
		return p
	}
	return strings.TrimSpace(c.Phone)
}

// OutboundMessage is what the assistant says when it calls this contact and
// no custom message was given.
func (c Contact) OutboundMessage() string {
	if desc := strings.TrimSpace(c.Description); desc != "" {
		return fmt.Sprintf("Hello, %s, %s", c.FullName(), desc)
	}
	return fmt.Sprintf("This is an automated call for %s.", c.FullName())
}
