package conversation

// Assemble builds the sequence sent to the model for one invocation:
// instructions first, then the last maxTurns turns with consumed tool
// results and past reasoning compressed. The result depends only on its
// arguments.
//
// The most recent tool results of the current turn, those after the last
// dispatch, stay verbatim because the model is reasoning over them.
func Assemble(msgs []Message, maxTurns int, instructions Message) []Message {
	window := Slide(msgs, maxTurns)
	seg := Segment(window)

	out := make([]Message, 0, len(window)+1)
	out = append(out, instructions)
	for i, m := range window {
		switch {
		case m.Role == RoleTool && (i < seg.TurnStart || seg.LastDispatch > i):
			out = append(out, Compress(m))
		case m.IsToolDispatch() && i < seg.TurnStart:
			out = append(out, Compress(m))
		default:
			out = append(out, m)
		}
	}
	return out
}
