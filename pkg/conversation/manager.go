// Package conversation holds the chat transcript of a single conversation.
//
// A Store keeps the ordered turns and hands out ids. A Conversation is the
// serializable snapshot of a store plus its settings and identity, which is
// what gets saved and loaded.
package conversation

// Store is the ordered list of turns of one conversation.
//
// Implementations must be safe for concurrent use: the streaming goroutine
// appends the assistant turn while the caller may be editing or deleting.
type Store interface {
	// Append adds t at the end and returns its freshly assigned id. The id and
	// role of t are overwritten and kept respectively; a zero CreatedAt is set
	// to now.
	Append(t Turn) TurnID
	// Edit replaces the content of a turn and records the edit time.
	Edit(id TurnID, content string) error
	// Delete removes a turn. Other ids are left unchanged.
	Delete(id TurnID) error
	Get(id TurnID) (Turn, bool)
	// List returns a copy of the turns in insertion order.
	List() []Turn
	Len() int
	// Clear removes all turns. The id counter keeps running.
	Clear()
	// Replace swaps in a loaded transcript. nextID is raised if needed so it
	// stays above every id in turns.
	Replace(turns []Turn, nextID TurnID) error
	// NextID is the id the next Append will assign.
	NextID() TurnID
}
