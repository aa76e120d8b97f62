package router

import "encoding/json"

// ClientMessage is the inbound frame envelope. Data shape varies by type.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type locationUpdate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Heading   float64 `json:"heading"`
	Speed     float64 `json:"speed"`
}

type roomRequest struct {
	Room string `json:"room"`
}

type companyBroadcast struct {
	CompanyID string          `json:"companyId"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}
