package judge

import "time"

// Status is the verdict code stored on the submission tracking row.
type Status int

const (
	Pending Status = iota
	Accepted
	WrongAnswer
	BannedOrRequiredWordsContent
	ContainsRestrictedFunctions
	TimeLimitExceeded
	UnknownError
)

var statusNames = [...]string{
	Pending:                      "pending",
	Accepted:                     "accepted",
	WrongAnswer:                  "wrong_answer",
	BannedOrRequiredWordsContent: "banned_or_required_words_content",
	ContainsRestrictedFunctions:  "contains_restricted_functions",
	TimeLimitExceeded:            "time_limit_exceeded",
	UnknownError:                 "unknown_error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "invalid"
	}
	return statusNames[s]
}

type Verdict struct {
	Status   Status
	Output   string
	TestedAt time.Time
}
