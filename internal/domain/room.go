package domain

type (
	RoomName string
	// RoomID is the server-assigned room sid, kept across resume and full reconnect.
	RoomID string
)

type Room struct {
	ID       RoomID   `json:"sid"`
	Name     RoomName `json:"name"`
	Metadata string   `json:"metadata"`
}
