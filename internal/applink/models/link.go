// Package models holds the app link record: an application uid allowed to
// read the incoming documents of a participant.
package models

import (
	"time"

	"github.com/google/uuid"
)

type Link struct {
	PeppolID  string
	LinkedUID uuid.UUID
	CreatedOn time.Time
}
