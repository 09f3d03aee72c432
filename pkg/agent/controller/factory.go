package controller

import (
	"fmt"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

// NewController builds the controller for an iteration strategy.
// Satisfies agent.ControllerFactory.
func NewController(strategy config.IterationStrategy) (agent.Controller, error) {
	switch strategy {
	case config.StrategyRegular:
		return NewRegularController(), nil
	case config.StrategyReact, config.StrategyReactTools, config.StrategyReactToolsPartial:
		return NewReActController(strategy), nil
	case config.StrategyReactFinalAnalysis:
		return NewFinalAnalysisController(), nil
	default:
		return nil, fmt.Errorf("unknown iteration strategy: %q", strategy)
	}
}

// noSectionsFound reports whether the parser detected no ReAct structure at
// all in a response.
func noSectionsFound(parsed *ParsedReActResponse) bool {
	for _, found := range parsed.FoundSections {
		if found {
			return false
		}
	}
	return true
}
