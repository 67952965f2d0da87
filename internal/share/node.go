// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package share

// node is one element of a single-writer, many-reader linked list of values.
// Readers wait on ready and then read val and next. Each reader walks the list at its
// own pace; nodes nobody references anymore are garbage collected.
type node[T any] struct {
	ready chan struct{}
	next  *node[T]
	val   T
}

func newNode[T any]() *node[T] {
	return &node[T]{
		ready: make(chan struct{}),
	}
}

// publish assigns the value, appends the next empty node and notifies readers.
// Calling publish twice on the same node panics.
func (n *node[T]) publish(v T) {
	n.val = v
	n.next = newNode[T]()
	close(n.ready)
}
