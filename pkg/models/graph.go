package models

import (
	"errors"
	"fmt"
)

// ErrCyclicGraph indicates a journey's step graph contains a cycle.
var ErrCyclicGraph = errors.New("step graph contains a cycle")

// ValidateForActivation runs the once-at-activation checks: every step's
// metadata shape and acyclicity of the step graph.
func (j *Journey) ValidateForActivation() error {
	for _, step := range j.Steps {
		if err := ValidateStepMetadata(step); err != nil {
			return err
		}
	}

	return j.validateAcyclic()
}

func (j *Journey) validateAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)

	states := make(map[string]int, len(j.Steps))

	var visit func(stepID string) error

	visit = func(stepID string) error {
		switch states[stepID] {
		case visiting:
			return fmt.Errorf("%w: at step %s", ErrCyclicGraph, stepID)
		case done:
			return nil
		}

		states[stepID] = visiting

		step := j.StepByID(stepID)
		if step == nil {
			return fmt.Errorf("step %s: destination references unknown step", stepID)
		}

		for _, next := range step.NextDestinations() {
			if err := visit(next); err != nil {
				return err
			}
		}

		states[stepID] = done

		return nil
	}

	for _, step := range j.Steps {
		if err := visit(step.ID); err != nil {
			return err
		}
	}

	return nil
}
