package delivery

import "trusted-delivery/internal/models"

// transitions lists, for every status, the statuses that may directly follow it.
// DELIVERED and CANCELLED are terminal.
var transitions = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:   {models.StatusPickedUp},
	models.StatusPickedUp:   {models.StatusDelivering},
	models.StatusDelivering: {models.StatusDelivered},
}

// CanTransition reports whether a request in status from may move to status to.
func CanTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// carrierSteps are the transitions the assigned partner drives with a plain status update.
// ACCEPTED comes from Accept, DELIVERED only from OTP verification, CANCELLED from the sender.
var carrierSteps = map[models.Status]models.Status{
	models.StatusPickedUp:   models.StatusAccepted,
	models.StatusDelivering: models.StatusPickedUp,
}
