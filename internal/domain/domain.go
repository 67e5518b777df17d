package domain

// Mission statuses. Open missions can be started; InProgress missions can be
// completed or failed; Completed and Failed are terminal.
const (
	StatusOpen       = "Open"
	StatusInProgress = "InProgress"
	StatusCompleted  = "Completed"
	StatusFailed     = "Failed"
)

type Mission struct {
	ID          int64   `json:"id"`
	ChiefID     int64   `json:"chief_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"Open,InProgress,Completed,Failed"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	DeletedAt   *string `json:"deleted_at,omitempty" format:"date-time"`
}

// MissionWithCrew is a Mission annotated with its live crew count.
type MissionWithCrew struct {
	Mission
	CrewCount int64 `json:"crew_count"`
}

type CrewMembership struct {
	MissionID int64  `json:"mission_id"`
	BrawlerID int64  `json:"brawler_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// CrewMember is the roster view of a membership.
type CrewMember struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Brawler struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    int64  `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
