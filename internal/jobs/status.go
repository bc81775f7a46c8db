package jobs

// DeriveStatus computes a job status from its items' statuses. The boolean
// is false when the rules leave the job unchanged, including when there are
// no items. Rules apply in order: all completed, any processing, all failed,
// some failed.
func DeriveStatus(statuses []ItemStatus) (JobStatus, bool) {
	if len(statuses) == 0 {
		return "", false
	}
	var completed, processing, failed int
	for _, status := range statuses {
		switch status {
		case ItemCompleted:
			completed++
		case ItemProcessing:
			processing++
		case ItemFailed:
			failed++
		}
	}
	total := len(statuses)
	switch {
	case completed == total:
		return JobCompleted, true
	case processing > 0:
		return JobProcessing, true
	case failed == total:
		return JobFailed, true
	case failed > 0:
		return JobPartial, true
	default:
		return "", false
	}
}
