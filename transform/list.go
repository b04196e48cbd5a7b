package transform

import (
	"errors"
	"fmt"
)

// List is the ordered set of transforms drawn by one plot.
type List struct {
	name  string
	items []*Transform
}

// NewList returns an empty list.
func NewList(name string) *List {
	return &List{name: name}
}

// Name returns the plot name.
func (l *List) Name() string { return l.name }

// Len returns the number of transforms.
func (l *List) Len() int { return len(l.items) }

// All returns the transforms in order.
func (l *List) All() []*Transform { return l.items }

// Add appends t. Transform names are unique within a list.
func (l *List) Add(t *Transform) error {
	if l.Find(t.Name()) != nil {
		return fmt.Errorf("transform: %s already has a transform named %q", l.name, t.Name())
	}
	l.items = append(l.items, t)
	return nil
}

// Remove drops t and releases it. It reports whether t was in the list.
func (l *List) Remove(t *Transform) bool {
	for i, it := range l.items {
		if it == t {
			it.Release()
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the transform named name, or nil.
func (l *List) Find(name string) *Transform {
	for _, t := range l.items {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Setup runs Setup on every transform. Transforms that fail stay disabled;
// the others are set up regardless. The failures are joined.
func (l *List) Setup() error {
	var errs []error
	for _, t := range l.items {
		if t.Disabled() != nil {
			continue
		}
		if err := t.Setup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Update runs Update on every ready transform in order. skip, when not nil,
// excludes transforms whose inputs were not refreshed this cycle. done, when
// not nil, is called after every successful update; returning false stops
// the cycle.
func (l *List) Update(skip, done func(*Transform) bool) error {
	var errs []error
	for _, t := range l.items {
		if !t.Ready() || (skip != nil && skip(t)) {
			continue
		}
		if err := t.Update(); err != nil {
			errs = append(errs, err)
			continue
		}
		if done != nil && !done(t) {
			break
		}
	}
	return errors.Join(errs...)
}

// Release releases every transform.
func (l *List) Release() {
	for _, t := range l.items {
		t.Release()
	}
}
