package crmsync

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/pkg/apperror"
)

// SyncRequestDTO is the payload of POST /api/crm/sync and /api/crm/sync/jobs.
// Omitted entity flags default to true; an omitted direction uses the
// integration's configured direction.
type SyncRequestDTO struct {
	OrganizationID   string `json:"organizationId"`
	Provider         string `json:"provider,omitempty"`
	Direction        string `json:"direction,omitempty"`
	SyncDonors       *bool  `json:"syncDonors,omitempty"`
	SyncDonations    *bool  `json:"syncDonations,omitempty"`
	SyncInteractions *bool  `json:"syncInteractions,omitempty"`
}

// ToRequest validates the payload and converts it to a run request.
func (d SyncRequestDTO) ToRequest() (Request, error) {
	if _, err := uuid.Parse(d.OrganizationID); err != nil {
		return Request{}, apperror.NewBadRequest("organizationId must be a valid UUID")
	}

	req := Request{
		OrganizationID: d.OrganizationID,
		Entities: Entities{
			Donors:       flag(d.SyncDonors),
			Donations:    flag(d.SyncDonations),
			Interactions: flag(d.SyncInteractions),
		},
	}
	if !req.Entities.Any() {
		return Request{}, apperror.NewBadRequest("at least one of syncDonors, syncDonations or syncInteractions must be enabled")
	}

	if d.Provider != "" {
		source, err := records.ParseSource(d.Provider)
		if err != nil {
			return Request{}, apperror.ErrProviderUnsupported.WithMessage(fmt.Sprintf("unsupported provider %q", d.Provider))
		}
		req.Provider = source
	}
	if d.Direction != "" {
		req.Direction = crm.Direction(d.Direction)
		if !req.Direction.Valid() {
			return Request{}, apperror.NewBadRequest(fmt.Sprintf("invalid sync direction %q", d.Direction))
		}
	}
	return req, nil
}

func flag(b *bool) bool {
	return b == nil || *b
}

// SyncJobDTO is an async sync job as returned by the API.
type SyncJobDTO struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	Provider       records.Source `json:"provider"`
	Direction      crm.Direction  `json:"direction"`
	Entities       Entities       `json:"entities"`
	TriggerSource  string         `json:"triggerSource"`
	Status         string         `json:"status"`
	AttemptCount   int            `json:"attemptCount"`
	LastError      *string        `json:"lastError,omitempty"`
	Result         *SyncResult    `json:"result,omitempty"`
	ScheduledAt    time.Time      `json:"scheduledAt"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ToDTO converts a job row to its API form.
func (j *SyncJob) ToDTO() SyncJobDTO {
	return SyncJobDTO{
		ID:             j.ID,
		OrganizationID: j.OrganizationID,
		Provider:       j.Provider,
		Direction:      j.Direction,
		Entities:       j.Entities(),
		TriggerSource:  j.TriggerSource,
		Status:         string(j.Status),
		AttemptCount:   j.AttemptCount,
		LastError:      j.LastError,
		Result:         j.Result,
		ScheduledAt:    j.ScheduledAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
	}
}
