package gcompute

// Event is a notification delivered through Engine.Drain.
type Event interface {
	// Request returns the start request the event belongs to.
	Request() RequestID

	isEvent()
}

// CopyEvent carries a buffer read back after a group finished. The payload
// belongs to the receiver.
type CopyEvent struct {
	RequestID RequestID
	GroupID   GroupID
	Buffer    string
	Payload   []byte
}

// GroupDoneEvent reports that a group reached StateComplete. Err is nil on
// success and wraps ErrDispatchFailed or ErrReadbackFailed otherwise.
type GroupDoneEvent struct {
	RequestID RequestID
	GroupID   GroupID
	Label     string
	Err       error
}

// RequestDoneEvent follows the last GroupDoneEvent of a request.
type RequestDoneEvent struct {
	RequestID RequestID
	Groups    int
	Failed    int
}

func (e CopyEvent) Request() RequestID        { return e.RequestID }
func (e GroupDoneEvent) Request() RequestID   { return e.RequestID }
func (e RequestDoneEvent) Request() RequestID { return e.RequestID }

func (CopyEvent) isEvent()        {}
func (GroupDoneEvent) isEvent()   {}
func (RequestDoneEvent) isEvent() {}
