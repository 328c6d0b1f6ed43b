package cache

// lruNode is a node in a doubly-linked LRU list.
// The node stores a key for O(1) deletion from the parent map.
type lruNode[K comparable] struct {
	key  K
	prev *lruNode[K]
	next *lruNode[K]
}

// lruList orders keys by recency. The head is the most recently used.
// The list is not thread-safe; callers must handle synchronization.
type lruList[K comparable] struct {
	head *lruNode[K]
	tail *lruNode[K]
	len  int
}

func (l *lruList[K]) pushFront(key K) *lruNode[K] {
	n := &lruNode[K]{key: key}
	l.linkFront(n)
	l.len++
	return n
}

func (l *lruList[K]) linkFront(n *lruNode[K]) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

func (l *lruList[K]) unlink(n *lruNode[K]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (l *lruList[K]) moveToFront(n *lruNode[K]) {
	if l.head == n {
		return
	}
	l.unlink(n)
	l.linkFront(n)
}

func (l *lruList[K]) remove(n *lruNode[K]) {
	l.unlink(n)
	l.len--
}
