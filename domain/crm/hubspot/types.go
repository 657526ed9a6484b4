package hubspot

// CRM v3 objects.

type object struct {
	ID           string            `json:"id,omitempty"`
	Properties   map[string]string `json:"properties"`
	UpdatedAt    string            `json:"updatedAt,omitempty"`
	Associations map[string]struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	} `json:"associations,omitempty"`
}

type objectList struct {
	Results []object `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (l objectList) after() string {
	if l.Paging == nil || l.Paging.Next == nil {
		return ""
	}
	return l.Paging.Next.After
}

// associated returns the first associated id of kind, or "".
func (o object) associated(kind string) string {
	a, ok := o.Associations[kind]
	if !ok || len(a.Results) == 0 {
		return ""
	}
	return a.Results[0].ID
}

// Engagements v1, which carries the activity type.

type engagement struct {
	ID        int64  `json:"id,omitempty"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type engagementAssociations struct {
	ContactIDs []int64 `json:"contactIds"`
}

type engagementMetadata struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
	Title   string `json:"title,omitempty"`
}

type engagementEnvelope struct {
	Engagement   engagement             `json:"engagement"`
	Associations engagementAssociations `json:"associations"`
	Metadata     engagementMetadata     `json:"metadata"`
}

type engagementList struct {
	Results []engagementEnvelope `json:"results"`
	HasMore bool                 `json:"hasMore"`
	Offset  int64                `json:"offset"`
}
