package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/voicecall/internal/crm"
)

const contactCreateConcurrency = 4

// recordResponse mirrors the Salesforce insert result.
type recordResponse struct {
	ID      string   `json:"id,omitempty"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
	Message string   `json:"message,omitempty"`
}

type accountWithCustomersRequest struct {
	Account   crm.Account   `json:"account"`
	Customers []crm.Contact `json:"customers"`
}

type accountWithCustomersResponse struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Account   recordResponse   `json:"account"`
	Customers []recordResponse `json:"customers,omitempty"`
}

type commentUpdateRequest struct {
	Comments    string `json:"Comments"`
	Description string `json:"Description"`
}

func (s *Server) salesforceRoutes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "UP", "service": "Salesforce Integration"})
	})
	r.Group(func(r chi.Router) {
		r.Use(s.requireCRM)
		r.Post("/account", s.handleCreateAccount)
		r.Get("/account/{accountId}", s.handleGetAccount)
		r.Post("/account-with-customers", s.handleCreateAccountWithCustomers)
		r.Post("/contact", s.handleCreateContact)
		r.Get("/contact/{contactId}", s.handleGetContact)
		r.Put("/contact/{contactId}/comments", s.handleUpdateComments)
		r.Post("/contact/{contactId}/task", s.handleCreateContactTask)
	})
}

func (s *Server) requireCRM(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.crm == nil {
			respondError(w, http.StatusServiceUnavailable, "crm_unconfigured", "salesforce credentials are not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var account crm.Account
	if err := decodeJSON(r, &account); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id, err := s.crm.CreateAccount(r.Context(), account)
	if err != nil {
		respondRecordError(w, "create_account_failed", err)
		return
	}
	log.Printf("salesforce: account %s created", id)
	respondJSON(w, http.StatusCreated, recordResponse{ID: id, Success: true, Message: "Account created successfully"})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.crm.GetAccountWithContacts(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		respondRecordError(w, "get_account_failed", err)
		return
	}
	if account.Contacts == nil {
		account.Contacts = []crm.Contact{}
	}
	respondJSON(w, http.StatusOK, account)
}

// handleCreateAccountWithCustomers creates the account and then its contacts.
// It answers 206 when the account exists but some contacts were rejected.
func (s *Server) handleCreateAccountWithCustomers(w http.ResponseWriter, r *http.Request) {
	var req accountWithCustomersRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	accountID, err := s.crm.CreateAccount(r.Context(), req.Account)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, accountWithCustomersResponse{
			Message: "Failed to create Account",
			Account: recordResponse{Errors: []string{err.Error()}},
		})
		return
	}

	customers := s.createContacts(r.Context(), req.Customers, accountID)
	resp := accountWithCustomersResponse{
		Success:   true,
		Message:   "Account created successfully",
		Account:   recordResponse{ID: accountID, Success: true},
		Customers: customers,
	}
	failed := 0
	for _, c := range customers {
		if !c.Success {
			failed++
		}
	}
	if failed > 0 {
		resp.Success = false
		resp.Message = "Account created but failed to create some Contacts"
		log.Printf("salesforce: account %s created, %d of %d contacts failed", accountID, failed, len(customers))
		respondJSON(w, http.StatusPartialContent, resp)
		return
	}
	log.Printf("salesforce: account %s created with %d contacts", accountID, len(customers))
	respondJSON(w, http.StatusCreated, resp)
}

// createContacts inserts the contacts concurrently. Results keep input order.
func (s *Server) createContacts(ctx context.Context, contacts []crm.Contact, accountID string) []recordResponse {
	results := make([]recordResponse, len(contacts))
	var g errgroup.Group
	g.SetLimit(contactCreateConcurrency)
	for i, contact := range contacts {
		g.Go(func() error {
			id, err := s.crm.CreateContact(ctx, contact, accountID)
			if err != nil {
				results[i] = recordResponse{Errors: []string{err.Error()}}
				return nil
			}
			results[i] = recordResponse{ID: id, Success: true}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var contact crm.Contact
	if err := decodeJSON(r, &contact); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	id, err := s.crm.CreateContact(r.Context(), contact, accountID)
	if err != nil {
		respondRecordError(w, "create_contact_failed", err)
		return
	}
	log.Printf("salesforce: contact %s created", id)
	respondJSON(w, http.StatusCreated, recordResponse{ID: id, Success: true, Message: "Contact created successfully"})
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	contact, err := s.crm.GetContact(r.Context(), chi.URLParam(r, "contactId"))
	if err != nil {
		respondRecordError(w, "get_contact_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, contact)
}

func (s *Server) handleUpdateComments(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactId")
	var req commentUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.crm.AppendContactComment(r.Context(), contactID, req.Comments, req.Description); err != nil {
		respondRecordError(w, "update_comments_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, recordResponse{ID: contactID, Success: true, Message: "Comments updated successfully"})
}

// handleCreateContactTask checks the contact exists, then attaches the task.
func (s *Server) handleCreateContactTask(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactId")
	var task crm.TaskRequest
	if err := decodeJSON(r, &task); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	contact, err := s.crm.GetContact(r.Context(), contactID)
	if err != nil {
		respondRecordError(w, "get_contact_failed", err)
		return
	}
	id, err := s.crm.CreateContactTask(r.Context(), contactID, task)
	if err != nil {
		respondRecordError(w, "create_task_failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"contact": contact,
		"task":    recordResponse{ID: id, Success: true, Message: "Task created successfully"},
	})
}

// respondRecordError maps CRM failures onto HTTP statuses.
func respondRecordError(w http.ResponseWriter, code string, err error) {
	status := http.StatusBadGateway
	var apiErr *crm.APIError
	switch {
	case errors.Is(err, crm.ErrInvalidRecord):
		status = http.StatusBadRequest
	case errors.Is(err, crm.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		status = http.StatusNotFound
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest:
		status = http.StatusBadRequest
	}
	respondError(w, status, code, err.Error())
}
