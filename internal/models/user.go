package models

type UserProfile struct {
	Address  string `json:"address"`
	Username string `json:"username"`
}
