package kernel

import (
	"context"
	"sort"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// CursorFactory allocates cursors owned by the transaction. Every
// cursor still open when the transaction finishes is closed with it.
type CursorFactory interface {
	AllocateNodeCursor(ctx context.Context) (*NodeCursor, error)
}

// NodeCursor iterates every node visible to the transaction: the
// committed nodes as of allocation time with the transaction's own
// creates and deletes layered on top. Positioned before the first
// node; advance with Next.
type NodeCursor struct {
	tx     *Transaction
	ids    []common.EntityID
	pos    int
	closed bool
}

// Cursors returns the transaction's cursor factory.
func (tx *Transaction) Cursors() (CursorFactory, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	return tx.ops, nil
}

func (o *operations) AllocateNodeCursor(ctx context.Context) (*NodeCursor, error) {
	if err := o.tx.assertOpen(); err != nil {
		return nil, err
	}

	seen := map[common.EntityID]struct{}{}
	var ids []common.EntityID

	err := o.tx.kernel.store.ScanNodes(ctx, func(
		id common.EntityID,
		_ map[common.TokenID]struct{},
		_ map[common.TokenID]storage.Value,
	) error {
		seen[id] = struct{}{}
		if o.tx.writes.existsOverlay(id, true) {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for id := range o.tx.writes.entities {
		if _, ok := seen[id]; ok {
			continue
		}
		if o.tx.writes.existsOverlay(id, false) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	c := &NodeCursor{tx: o.tx, ids: ids, pos: -1}
	o.cursors = append(o.cursors, c)
	return c, nil
}

// Next advances to the next visible node. A terminated transaction
// makes the cursor stop early.
func (c *NodeCursor) Next() bool {
	if c.closed || c.tx.IsTerminated() {
		return false
	}
	c.pos++
	return c.pos < len(c.ids)
}

// EntityID returns the node the cursor is positioned on. Only valid
// after Next returned true.
func (c *NodeCursor) EntityID() common.EntityID {
	return c.ids[c.pos]
}

func (c *NodeCursor) Close() {
	c.closed = true
	c.ids = nil
}

func (o *operations) closeCursors() {
	for _, c := range o.cursors {
		c.Close()
	}
	o.cursors = nil
}
