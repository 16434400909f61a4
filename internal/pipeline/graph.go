package pipeline

// Successors returns the stage descriptors to enqueue after task completed
// successfully. Fetch fans out into the three converter branches; image
// extraction fans out one thumbnail task per produced image; text extraction
// chains into attribute extraction. Successors start at attempt zero since
// they are fresh units of work, not retries.
func Successors(task Task, produced []Image) []Task {
	switch task.Stage {
	case StageFetch:
		next := make([]Task, 0, 3)
		for _, stage := range []Stage{StageExtractImages, StageDocThumbnail, StageExtractText} {
			next = append(next, Task{
				BatchID:    task.BatchID,
				DocumentID: task.DocumentID,
				Stage:      stage,
				Submitted:  task.Submitted,
			})
		}
		return next
	case StageExtractImages:
		next := make([]Task, 0, len(produced))
		for _, img := range produced {
			next = append(next, Task{
				BatchID:    task.BatchID,
				DocumentID: task.DocumentID,
				ImageID:    img.ID,
				Stage:      StageImageThumbnail,
				Submitted:  task.Submitted,
			})
		}
		return next
	case StageExtractText:
		return []Task{{
			BatchID:    task.BatchID,
			DocumentID: task.DocumentID,
			Stage:      StageAttributes,
			Submitted:  task.Submitted,
		}}
	default:
		return nil
	}
}

// Summarize folds a batch's stage results into completed documents and
// per-branch failures. A document counts as completed when at least one of
// its stages ran and none failed; skips do not disqualify it.
func Summarize(batchID string, results []StageResult) BatchSummary {
	summary := BatchSummary{BatchID: batchID}

	seen := make(map[string]bool)
	failed := make(map[string]bool)
	var order []string
	for _, res := range results {
		if !seen[res.DocumentID] {
			seen[res.DocumentID] = true
			order = append(order, res.DocumentID)
		}
		if res.Outcome == OutcomeFailed {
			failed[res.DocumentID] = true
			summary.Failures = append(summary.Failures, DocumentFailure{
				DocumentID: res.DocumentID,
				Stage:      res.Stage,
				Error:      res.ErrorText,
			})
		}
	}
	for _, id := range order {
		if !failed[id] {
			summary.Completed = append(summary.Completed, id)
		}
	}
	return summary
}
