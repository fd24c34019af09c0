package service

import "errors"

// ErrInvalidScoreInput indicates a score update with contradictory or
// malformed fields (e.g. both points and manual_points supplied).
var ErrInvalidScoreInput = errors.New("invalid score input")

// ErrSubmissionNotFound indicates the submission or instance question could
// not be resolved.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrRubricNotFound indicates a referenced rubric does not exist.
var ErrRubricNotFound = errors.New("rubric not found")

// ErrInvalidRubric indicates a malformed rubric definition in a settings
// update.
var ErrInvalidRubric = errors.New("invalid rubric definition")

// ErrNoPointRange indicates rubric settings whose ceiling does not exceed
// the minimum, leaving no reachable score.
var ErrNoPointRange = errors.New("rubric has no range of possible points")

// ErrAssessmentQuestionNotFound indicates the assessment question could not
// be resolved.
var ErrAssessmentQuestionNotFound = errors.New("assessment question not found")

// ErrJobSequenceNotFound indicates the requested grading run does not exist.
var ErrJobSequenceNotFound = errors.New("job sequence not found")

// ErrScorerUnavailable indicates AI grading was invoked without a configured
// scorer. The whole run fails before any item is attempted.
var ErrScorerUnavailable = errors.New("ai grading is not available")
