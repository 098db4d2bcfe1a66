package engine

// worklist is a LIFO stack of pending addresses.
type worklist struct {
	items []uint64
}

// Push adds an address to the stack
func (w *worklist) Push(addr uint64) {
	w.items = append(w.items, addr)
}

// Pop removes and returns the last address from the stack
func (w *worklist) Pop() (uint64, bool) {
	if len(w.items) == 0 {
		return 0, false
	}
	addr := w.items[len(w.items)-1]
	w.items = w.items[:len(w.items)-1]
	return addr, true
}

// Len returns the number of pending addresses
func (w *worklist) Len() int {
	return len(w.items)
}
