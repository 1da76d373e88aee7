package core

import (
	"time"

	"sdb_service/internal/domain/model"
)

type TemporalAnalyzer struct{}

// Runtimes считает длительность этапов по отметкам времени событий прогресса.
// Этап длится от своего события до следующего, общее время от первого события до "Done.".
func (a *TemporalAnalyzer) Runtimes(events []model.ProgressEvent) model.Runtimes {
	at := make(map[model.Stage]time.Time, len(events))
	for _, ev := range events {
		at[ev.Stage] = ev.Time
	}
	span := func(from, to model.Stage) time.Duration {
		start, ok1 := at[from]
		end, ok2 := at[to]
		if !ok1 || !ok2 {
			return 0
		}
		return end.Sub(start)
	}

	return model.Runtimes{
		Clip:        span(model.StageClip, model.StageDepthFilter),
		DepthFilter: span(model.StageDepthFilter, model.StageSplit),
		Split:       span(model.StageSplit, model.StageModeling),
		Modeling:    span(model.StageModeling, model.StageEvaluation),
		Evaluation:  span(model.StageEvaluation, model.StageDone),
		Total:       span(model.StageClip, model.StageDone),
	}
}
