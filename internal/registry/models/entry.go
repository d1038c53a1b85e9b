package models

import (
	"time"

	"peppolrelay/pkg/domain"
)

// Entry binds a participant to the access point it sends through. Variables
// belong to that access point and are opaque to everything else.
type Entry struct {
	PeppolID    string
	AccessPoint domain.AccessPoint
	Variables   map[string]string
	CreatedOn   time.Time
	UpdatedOn   time.Time
}

// NewEntry returns an unbound entry.
func NewEntry(peppolID string, now time.Time) *Entry {
	return &Entry{
		PeppolID:    peppolID,
		AccessPoint: domain.AccessPointNone,
		CreatedOn:   now,
		UpdatedOn:   now,
	}
}

func (e *Entry) IsBound() bool {
	return !e.AccessPoint.IsNone()
}

// Bind switches the entry to ap with the variables its gateway returned.
func (e *Entry) Bind(ap domain.AccessPoint, vars map[string]string, now time.Time) {
	e.AccessPoint = ap
	e.Variables = vars
	e.UpdatedOn = now
}

// Unbind drops the binding and the gateway's variables.
func (e *Entry) Unbind(now time.Time) {
	e.Bind(domain.AccessPointNone, nil, now)
}

func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Variables != nil {
		c.Variables = make(map[string]string, len(e.Variables))
		for k, v := range e.Variables {
			c.Variables[k] = v
		}
	}
	return &c
}

// RegisterRequest is the business entity a participant publishes on the
// network.
type RegisterRequest struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Country  string `json:"country"`
}

// EntryResponse is the API view of an entry. Variables are never exposed.
type EntryResponse struct {
	PeppolID    string    `json:"peppolId"`
	AccessPoint string    `json:"accessPoint"`
	CreatedOn   time.Time `json:"createdOn"`
	UpdatedOn   time.Time `json:"updatedOn"`
}

func (e *Entry) Response() EntryResponse {
	return EntryResponse{
		PeppolID:    e.PeppolID,
		AccessPoint: e.AccessPoint.String(),
		CreatedOn:   e.CreatedOn,
		UpdatedOn:   e.UpdatedOn,
	}
}
