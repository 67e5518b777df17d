package server

import (
	"crewline/internal/domain"
)

// Request payloads

type RegisterBrawlerRequest struct {
	Username string `json:"username" minLength:"1"`
	Password string `json:"password" minLength:"1"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateMissionRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type UpdateMissionRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Response payloads

type BrawlerResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// PassportResponse is the login ticket carrying the bearer token.
type PassportResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type" example:"Bearer"`
	ExpiresIn   int64  `json:"expires_in" doc:"Token lifetime in seconds"`
}

type MissionResponse struct {
	ID          int64  `json:"id"`
	ChiefID     int64  `json:"chief_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"Open,InProgress,Completed,Failed"`
	CrewCount   int64  `json:"crew_count"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type CrewMemberResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func brawlerResponse(b domain.Brawler) BrawlerResponse {
	return BrawlerResponse{
		ID:        b.ID,
		Username:  b.Username,
		CreatedAt: b.CreatedAt,
	}
}

func missionResponse(m domain.MissionWithCrew) MissionResponse {
	return MissionResponse{
		ID:          m.ID,
		ChiefID:     m.ChiefID,
		Name:        m.Name,
		Description: m.Description,
		Status:      m.Status,
		CrewCount:   m.CrewCount,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func mapMissions(items []domain.MissionWithCrew) []MissionResponse {
	res := make([]MissionResponse, 0, len(items))
	for _, m := range items {
		res = append(res, missionResponse(m))
	}
	return res
}

func mapCrew(items []domain.CrewMember) []CrewMemberResponse {
	res := make([]CrewMemberResponse, 0, len(items))
	for _, m := range items {
		res = append(res, CrewMemberResponse{ID: m.ID, Username: m.Username})
	}
	return res
}
