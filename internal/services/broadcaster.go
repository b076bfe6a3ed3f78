package services

import "rugmania-backend/internal/models"

// Broadcaster pushes freshly recorded settlements to live subscribers.
type Broadcaster interface {
	BroadcastSettlement(settlement *models.Settlement)
}
