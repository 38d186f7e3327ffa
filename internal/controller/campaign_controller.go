// internal/controller/campaign_controller.go
package controller

import (
    "encoding/json"
    "fmt"
    "net/http"
    "strconv"

    "go.uber.org/zap"

    appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
    "github.com/unclebandit/dripmail-backend/internal/pkg/logger"
    "github.com/unclebandit/dripmail-backend/internal/service"
)

// CampaignController serves the per-contact routes.
type CampaignController struct {
    CampaignService *service.CampaignService
    Log             *zap.Logger
}

func (c *CampaignController) log() *zap.Logger { return logger.OrNop(c.Log) }

func (c *CampaignController) AddContact(w http.ResponseWriter, r *http.Request) {
    var body service.AddContactRequest
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        WriteError(w, c.log(), fmt.Errorf("%w: invalid body", appErrors.ErrInvalidContact))
        return
    }

    contact, err := c.CampaignService.AddContact(r.Context(), body)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    WriteJSON(w, http.StatusCreated, contact)
}

func (c *CampaignController) ListContacts(w http.ResponseWriter, r *http.Request) {
    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
    status := r.URL.Query().Get("status")

    contacts, pagination, err := c.CampaignService.ListContacts(r.Context(), page, pageSize, status)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }

    WriteJSON(w, http.StatusOK, map[string]interface{}{
        "data":       contacts,
        "pagination": pagination,
    })
}

func (c *CampaignController) GetContact(w http.ResponseWriter, r *http.Request) {
    id, err := contactID(r)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    contact, err := c.CampaignService.GetContact(r.Context(), id)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    WriteJSON(w, http.StatusOK, contact)
}

func (c *CampaignController) DeleteContact(w http.ResponseWriter, r *http.Request) {
    id, err := contactID(r)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    if err := c.CampaignService.DeleteContact(r.Context(), id); err != nil {
        WriteError(w, c.log(), err)
        return
    }
    w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) GetDripStatus(w http.ResponseWriter, r *http.Request) {
    id, err := contactID(r)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    status, err := c.CampaignService.GetDripStatus(r.Context(), id)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    WriteJSON(w, http.StatusOK, status)
}

func (c *CampaignController) GetContent(w http.ResponseWriter, r *http.Request) {
    id, err := contactID(r)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    rec, err := c.CampaignService.GetContent(r.Context(), id)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    WriteJSON(w, http.StatusOK, rec)
}

// StopContact takes the contact out of the campaign.
func (c *CampaignController) StopContact(w http.ResponseWriter, r *http.Request) {
    id, err := contactID(r)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    contact, err := c.CampaignService.StopContact(r.Context(), id)
    if err != nil {
        WriteError(w, c.log(), err)
        return
    }
    WriteJSON(w, http.StatusOK, contact)
}
