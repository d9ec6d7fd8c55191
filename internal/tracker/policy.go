package tracker

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a Tracker
type State int32

const (
	StateNew State = iota
	StateAwaitingFile
	StateWatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitingFile:
		return "awaiting_file"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// AbsencePolicy selects what a Tracker does when the target file does not
// exist (or is a directory) when the session starts.
type AbsencePolicy int

const (
	// AbsenceStop ends the session immediately without opening anything.
	AbsenceStop AbsencePolicy = iota
	// AbsenceWaitForever re-checks every poll interval until the file appears.
	AbsenceWaitForever
	// AbsenceWaitNTimes re-checks at most the configured number of times.
	AbsenceWaitNTimes
)

func (p AbsencePolicy) String() string {
	switch p {
	case AbsenceStop:
		return "stop"
	case AbsenceWaitForever:
		return "wait_forever"
	case AbsenceWaitNTimes:
		return "wait_n_times"
	default:
		return fmt.Sprintf("absence(%d)", int(p))
	}
}

// ParseAbsencePolicy parses the textual form produced by String
func ParseAbsencePolicy(s string) (AbsencePolicy, error) {
	switch normalizePolicyName(s) {
	case "", "stop":
		return AbsenceStop, nil
	case "wait_forever", "wait":
		return AbsenceWaitForever, nil
	case "wait_n_times", "wait_n":
		return AbsenceWaitNTimes, nil
	default:
		return AbsenceStop, fmt.Errorf("unknown absence policy %q", s)
	}
}

// TruncationPolicy selects what a Tracker does when the file shrinks below
// the read cursor or is replaced by a different file at the same path.
type TruncationPolicy int

const (
	// TruncateRewindToHead re-reads the file from byte 0.
	TruncateRewindToHead TruncationPolicy = iota
	// TruncateRewindToOffset applies the initial offset formula to the new length.
	TruncateRewindToOffset
	// TruncateContinueAtEnd resumes at the new end of file.
	TruncateContinueAtEnd
	// TruncateStop ends the session.
	TruncateStop
)

func (p TruncationPolicy) String() string {
	switch p {
	case TruncateRewindToHead:
		return "rewind_to_head"
	case TruncateRewindToOffset:
		return "rewind_to_offset"
	case TruncateContinueAtEnd:
		return "continue_at_end"
	case TruncateStop:
		return "stop"
	default:
		return fmt.Sprintf("truncation(%d)", int(p))
	}
}

// ParseTruncationPolicy parses the textual form produced by String
func ParseTruncationPolicy(s string) (TruncationPolicy, error) {
	switch normalizePolicyName(s) {
	case "", "rewind_to_head", "rewind":
		return TruncateRewindToHead, nil
	case "rewind_to_offset":
		return TruncateRewindToOffset, nil
	case "continue_at_end", "continue":
		return TruncateContinueAtEnd, nil
	case "stop":
		return TruncateStop, nil
	default:
		return TruncateRewindToHead, fmt.Errorf("unknown truncation policy %q", s)
	}
}

func normalizePolicyName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// startOffset is where reading starts for a file of length size when the
// session is configured with offsetFromEnd bytes: max(0, size-offsetFromEnd).
func startOffset(size, offsetFromEnd int64) int64 {
	if s := size - offsetFromEnd; s > 0 {
		return s
	}
	return 0
}
