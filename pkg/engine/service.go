package engine

// service holds the queued and active bridges for one service name. It is
// created lazily on first reference and garbage-collected by the scheduler
// once both lists are empty.
type service struct {
	queue  []*Bridge // FIFO: append at tail, promote from head
	active []*Bridge
}
