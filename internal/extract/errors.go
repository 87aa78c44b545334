package extract

import "errors"

var (
	// errNoStrategySucceeded means every strategy errored outright (no
	// payload, no selectors configured, and so on).
	errNoStrategySucceeded = errors.New("no extraction strategy produced a result")

	// errBelowThreshold means at least one strategy produced entities, but
	// none cleared the coordinator's confidence threshold. The caller
	// still receives the best attempt in Result.
	errBelowThreshold = errors.New("extraction confidence below threshold")
)
