package store

import "qms/branch-queue/internal/models"

// transitionMap lists, per target status, the statuses a customer may leave to reach it.
var transitionMap = map[models.CustomerStatus][]models.CustomerStatus{
	models.StatusServing:   {models.StatusWaiting},
	models.StatusCompleted: {models.StatusServing},
	models.StatusCancelled: {models.StatusWaiting, models.StatusServing},
}

func ValidTransition(from, to models.CustomerStatus) bool {
	allowed, ok := transitionMap[to]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}
