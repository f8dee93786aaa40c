package queue

import (
	"math"

	"qms/branch-queue/internal/models"
)

type QueueStats struct {
	ServiceDay         string `json:"service_day"`
	TotalCustomers     int    `json:"total_customers"`
	WaitingCustomers   int    `json:"waiting_customers"`
	ServingCustomers   int    `json:"serving_customers"`
	CompletedCustomers int    `json:"completed_customers"`
	CancelledCustomers int    `json:"cancelled_customers"`
	AvgWaitMinutes     int    `json:"avg_wait_time"`
	AvgServiceMinutes  int    `json:"avg_service_time"`
}

// computeStats averages wait over customers that reached a teller and
// service time over completed customers, rounded to whole minutes.
func computeStats(day string, customers []models.Customer) QueueStats {
	stats := QueueStats{ServiceDay: day, TotalCustomers: len(customers)}
	var waitTotal, serviceTotal float64
	var waited, served int
	for _, c := range customers {
		switch c.Status {
		case models.StatusWaiting:
			stats.WaitingCustomers++
		case models.StatusServing:
			stats.ServingCustomers++
		case models.StatusCompleted:
			stats.CompletedCustomers++
		case models.StatusCancelled:
			stats.CancelledCustomers++
		}
		if c.StartServiceTime != nil && (c.Status == models.StatusServing || c.Status == models.StatusCompleted) {
			waitTotal += c.StartServiceTime.Sub(c.CheckInTime).Minutes()
			waited++
		}
		if c.Status == models.StatusCompleted && c.StartServiceTime != nil && c.EndServiceTime != nil {
			serviceTotal += c.EndServiceTime.Sub(*c.StartServiceTime).Minutes()
			served++
		}
	}
	if waited > 0 {
		stats.AvgWaitMinutes = int(math.Round(waitTotal / float64(waited)))
	}
	if served > 0 {
		stats.AvgServiceMinutes = int(math.Round(serviceTotal / float64(served)))
	}
	return stats
}
