package rhi

// Command is a single recorded operation. Implementations execute against
// the context bound to the list at submission time.
//
// Execution is infallible by contract: a command that cannot perform its
// effect must panic, surfacing the violated invariant at the call site.
// There is deliberately no error return; checking and recovering on every
// command would defeat the purpose of a recording hot path.
type Command interface {
	Execute(ctx Context)
}

// CommandFunc adapts a bare function to the Command interface. This is the
// lambda-enqueue path: most callers record closures rather than declaring
// a named command type.
type CommandFunc func(ctx Context)

// Execute implements Command.
func (f CommandFunc) Execute(ctx Context) { f(ctx) }

// commandNode is one cell of a list's intrusive command chain. Cells are
// carved from the list's node arena, never from the general heap, and are
// zeroed in place after execution so the arena can be recycled without
// keeping payloads alive.
type commandNode struct {
	cmd  Command
	next *commandNode
}

// executeAndDestruct runs the node's command and clears the cell in place.
// The returned pointer is the next node, captured before the cell is
// zeroed.
func (n *commandNode) executeAndDestruct(ctx Context) *commandNode {
	next := n.next
	n.cmd.Execute(ctx)
	*n = commandNode{}
	return next
}

// commandIterator walks a command chain without recursion so stack depth
// stays bounded regardless of list length.
type commandIterator struct {
	cur *commandNode
}

func newCommandIterator(l *CommandList) commandIterator {
	return commandIterator{cur: l.root}
}

func (it *commandIterator) hasCommandsLeft() bool { return it.cur != nil }

// nextAndExecute executes the current command, destroys its cell, and
// advances the iterator.
func (it *commandIterator) nextAndExecute(ctx Context) {
	it.cur = it.cur.executeAndDestruct(ctx)
}
