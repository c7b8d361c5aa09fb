package models

import (
	"fmt"
	"strings"
)

// DefaultTimeSliceMs es el quantum por defecto del planificador.
const DefaultTimeSliceMs uint64 = 10

type SchedulingAlgorithm int

const (
	RoundRobin SchedulingAlgorithm = iota
	PriorityScheduling
	CompletelyFair
)

var algorithmNames = map[SchedulingAlgorithm]string{
	RoundRobin:         "RR",
	PriorityScheduling: "PRIORITY",
	CompletelyFair:     "CFS",
}

func (a SchedulingAlgorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return "UNKNOWN"
}

func (a SchedulingAlgorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ParseSchedulingAlgorithm acepta "RR", "PRIORITY" o "CFS" sin distinguir mayúsculas.
func ParseSchedulingAlgorithm(name string) (SchedulingAlgorithm, error) {
	for algorithm, algorithmName := range algorithmNames {
		if algorithmName == strings.ToUpper(name) {
			return algorithm, nil
		}
	}
	return RoundRobin, fmt.Errorf("%w: algoritmo de planificación %q", ErrInvalidArgument, name)
}

type SchedulerStatistics struct {
	ContextSwitches     uint64              `json:"context_switches"`
	SchedulingDecisions uint64              `json:"scheduling_decisions"`
	OverheadMs          uint64              `json:"overhead_ms"`
	Algorithm           SchedulingAlgorithm `json:"algorithm"`
	TimeSliceMs         uint64              `json:"time_slice_ms"`
	CurrentPID          *ProcessID          `json:"current_pid,omitempty"`
}
