package queue

import (
	"fmt"
	"strings"

	"qms/branch-queue/internal/models"
)

// Snapshot is the queue state a WaitEstimator sees at check-in: the
// customers of the service day in arrival order and the teller roster.
// The customer being checked in is not part of it.
type Snapshot struct {
	Day       string
	Customers []models.Customer
	Tellers   []models.Teller
}

// WaitingFor counts waiting customers that asked for serviceType.
func (s Snapshot) WaitingFor(serviceType string) int {
	n := 0
	for _, c := range s.Customers {
		if c.Status == models.StatusWaiting && c.ServiceType == serviceType {
			n++
		}
	}
	return n
}

// CapableTellers counts tellers advertising serviceType, busy or not.
func (s Snapshot) CapableTellers(serviceType string) int {
	n := 0
	for _, t := range s.Tellers {
		if t.CanServe(serviceType) {
			n++
		}
	}
	return n
}

// WaitEstimator returns the expected wait in minutes for a new customer.
type WaitEstimator interface {
	Estimate(serviceType string, snapshot Snapshot) int
}

type EstimatorFunc func(serviceType string, snapshot Snapshot) int

func (f EstimatorFunc) Estimate(serviceType string, snapshot Snapshot) int {
	return f(serviceType, snapshot)
}

// FixedEstimator returns a constant per service type.
type FixedEstimator struct {
	Default    int
	PerService map[string]int
}

func (e FixedEstimator) Estimate(serviceType string, _ Snapshot) int {
	if minutes, ok := e.PerService[serviceType]; ok {
		return minutes
	}
	return e.Default
}

// QueueLengthEstimator spreads the work already waiting for a service type
// across the tellers able to serve it:
// ceil(waiting × avg service minutes / capable tellers).
type QueueLengthEstimator struct {
	DefaultServiceMinutes int
	ServiceMinutes        map[string]int
	NoTellerWait          int
}

func (e QueueLengthEstimator) Estimate(serviceType string, snapshot Snapshot) int {
	capable := snapshot.CapableTellers(serviceType)
	if capable == 0 {
		return e.NoTellerWait
	}
	avg := e.DefaultServiceMinutes
	if minutes, ok := e.ServiceMinutes[serviceType]; ok {
		avg = minutes
	}
	ahead := snapshot.WaitingFor(serviceType)
	return (ahead*avg + capable - 1) / capable
}

const (
	EstimatorFixed       = "fixed"
	EstimatorQueueLength = "queue_length"
)

type EstimatorConfig struct {
	Kind                  string
	DefaultWaitMinutes    int
	ServiceWaitMinutes    map[string]int
	NoTellerWaitMinutes   int
	DefaultServiceMinutes int
	ServiceMinutes        map[string]int
}

// DefaultEstimatorConfig matches the branch defaults: a flat 15 minutes, or
// 15/10 minute service averages with 30 minutes when nobody can serve.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Kind:                  EstimatorFixed,
		DefaultWaitMinutes:    15,
		NoTellerWaitMinutes:   30,
		DefaultServiceMinutes: 10,
		ServiceMinutes:        map[string]int{"international-transfer": 15},
	}
}

func NewEstimator(cfg EstimatorConfig) (WaitEstimator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", EstimatorFixed:
		return FixedEstimator{Default: cfg.DefaultWaitMinutes, PerService: cfg.ServiceWaitMinutes}, nil
	case EstimatorQueueLength:
		return QueueLengthEstimator{
			DefaultServiceMinutes: cfg.DefaultServiceMinutes,
			ServiceMinutes:        cfg.ServiceMinutes,
			NoTellerWait:          cfg.NoTellerWaitMinutes,
		}, nil
	default:
		return nil, fmt.Errorf("unknown estimator %q", cfg.Kind)
	}
}
