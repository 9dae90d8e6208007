package conversation

// NoDispatch marks a current turn that has not issued any tool call yet.
const NoDispatch = -1

type Segmentation struct {
	// TurnStart is the index of the last user message, or 0 if there is none.
	TurnStart int
	// LastDispatch is the index of the most recent assistant message with tool
	// calls at or after TurnStart, or NoDispatch.
	LastDispatch int
}

func Segment(msgs []Message) Segmentation {
	seg := Segmentation{TurnStart: 0, LastDispatch: NoDispatch}
	for i, m := range msgs {
		if m.Role == RoleUser {
			seg.TurnStart = i
		}
	}
	for i := len(msgs) - 1; i >= seg.TurnStart; i-- {
		if msgs[i].IsToolDispatch() {
			seg.LastDispatch = i
			break
		}
	}
	return seg
}

// CountTurns returns the number of user messages in msgs.
func CountTurns(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// CurrentTurn returns the messages from the last user message to the end.
// It is empty when msgs has no user message.
func CurrentTurn(msgs []Message) []Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i:]
		}
	}
	return nil
}

// Slide keeps the last maxTurns user turns. The cut always lands on a user
// message, so tool call / result pairs are never split. maxTurns < 1 keeps
// everything.
func Slide(msgs []Message, maxTurns int) []Message {
	if maxTurns < 1 {
		return msgs
	}
	cut, seen := 0, 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleUser {
			continue
		}
		seen++
		switch {
		case seen == maxTurns:
			cut = i
		case seen > maxTurns:
			return msgs[cut:]
		}
	}
	return msgs
}
