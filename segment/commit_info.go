package segment

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
)

// Info is the flush-time identity of a segment.
type Info struct {
	Name   string
	MaxDoc int
}

// CommitState is the durable part of a CommitInfo as stored in a segments
// file.
type CommitState struct {
	Name               string `msgpack:"name"`
	MaxDoc             int    `msgpack:"max_doc"`
	DelCount           int    `msgpack:"del_count"`
	SoftDelCount       int    `msgpack:"soft_del_count"`
	DelGen             int64  `msgpack:"del_gen"`
	FieldInfosGen      int64  `msgpack:"field_infos_gen"`
	DocValuesGen       int64  `msgpack:"doc_values_gen"`
	BufferedDeletesGen int64  `msgpack:"buffered_deletes_gen"`
}

// CommitInfo is the per-segment commit descriptor. A generation of -1 means
// "never written"; the next-write generations start one above the committed
// ones and only move forward, so a failed write never reuses a file name.
//
// All methods are safe for concurrent use.
type CommitInfo struct {
	Info Info

	mu                     sync.Mutex
	delCount               int
	softDelCount           int
	delGen                 int64
	nextWriteDelGen        int64
	fieldInfosGen          int64
	nextWriteFieldInfosGen int64
	docValuesGen           int64
	nextWriteDocValuesGen  int64
	bufferedDeletesGen     int64
}

// NewCommitInfo returns a descriptor for a freshly flushed segment without any
// deletes or updates.
func NewCommitInfo(info Info) *CommitInfo {
	return FromCommitState(CommitState{
		Name:          info.Name,
		MaxDoc:        info.MaxDoc,
		DelGen:        -1,
		FieldInfosGen: -1,
		DocValuesGen:  -1,
	})
}

// FromCommitState restores a descriptor from its durable state.
func FromCommitState(s CommitState) *CommitInfo {
	ci := &CommitInfo{
		Info:               Info{Name: s.Name, MaxDoc: s.MaxDoc},
		delGen:             s.DelGen,
		fieldInfosGen:      s.FieldInfosGen,
		docValuesGen:       s.DocValuesGen,
		bufferedDeletesGen: s.BufferedDeletesGen,
	}
	ci.nextWriteDelGen = nextWrite(s.DelGen)
	ci.nextWriteFieldInfosGen = nextWrite(s.FieldInfosGen)
	ci.nextWriteDocValuesGen = nextWrite(s.DocValuesGen)
	ci.setDelCounts(s.DelCount, s.SoftDelCount)
	return ci
}

func nextWrite(gen int64) int64 {
	if gen == -1 {
		return 1
	}
	return gen + 1
}

// State returns the durable state.
func (c *CommitInfo) State() CommitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CommitState{
		Name:               c.Info.Name,
		MaxDoc:             c.Info.MaxDoc,
		DelCount:           c.delCount,
		SoftDelCount:       c.softDelCount,
		DelGen:             c.delGen,
		FieldInfosGen:      c.fieldInfosGen,
		DocValuesGen:       c.docValuesGen,
		BufferedDeletesGen: c.bufferedDeletesGen,
	}
}

// Clone returns an independent copy, including the next-write generations.
func (c *CommitInfo) Clone() *CommitInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &CommitInfo{
		Info:                   c.Info,
		delCount:               c.delCount,
		softDelCount:           c.softDelCount,
		delGen:                 c.delGen,
		nextWriteDelGen:        c.nextWriteDelGen,
		fieldInfosGen:          c.fieldInfosGen,
		nextWriteFieldInfosGen: c.nextWriteFieldInfosGen,
		docValuesGen:           c.docValuesGen,
		nextWriteDocValuesGen:  c.nextWriteDocValuesGen,
		bufferedDeletesGen:     c.bufferedDeletesGen,
	}
}

// HasDeletions reports whether live docs were ever persisted.
func (c *CommitInfo) HasDeletions() bool {
	return c.DelGen() != -1
}

// DelGen returns the generation of the committed live docs, -1 if none.
func (c *CommitInfo) DelGen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delGen
}

// NextWriteDelGen returns the generation the next live-docs write targets.
func (c *CommitInfo) NextWriteDelGen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextWriteDelGen
}

// AdvanceDelGen commits the pending live-docs write.
func (c *CommitInfo) AdvanceDelGen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delGen = c.nextWriteDelGen
	c.nextWriteDelGen = c.delGen + 1
}

// AdvanceNextWriteDelGen skips the generation of a failed write.
func (c *CommitInfo) AdvanceNextWriteDelGen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextWriteDelGen++
}

// FieldInfosGen returns the field-infos generation, -1 if never updated.
func (c *CommitInfo) FieldInfosGen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fieldInfosGen
}

// AdvanceFieldInfosGen commits the pending field-infos write.
func (c *CommitInfo) AdvanceFieldInfosGen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fieldInfosGen = c.nextWriteFieldInfosGen
	c.nextWriteFieldInfosGen = c.fieldInfosGen + 1
}

// DocValuesGen returns the doc-values generation, -1 if never updated.
func (c *CommitInfo) DocValuesGen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docValuesGen
}

// NextWriteDocValuesGen returns the generation the next doc-values update
// targets.
func (c *CommitInfo) NextWriteDocValuesGen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextWriteDocValuesGen
}

// AdvanceDocValuesGen commits the pending doc-values update and returns its
// generation.
func (c *CommitInfo) AdvanceDocValuesGen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docValuesGen = c.nextWriteDocValuesGen
	c.nextWriteDocValuesGen = c.docValuesGen + 1
	return c.docValuesGen
}

// DelCount returns the committed hard delete count.
func (c *CommitInfo) DelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delCount
}

// SetDelCount sets the committed hard delete count. It panics if the result
// would exceed MaxDoc.
func (c *CommitInfo) SetDelCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDelCounts(n, c.softDelCount)
}

// SoftDelCount returns the committed soft delete count.
func (c *CommitInfo) SoftDelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.softDelCount
}

// SetSoftDelCount sets the committed soft delete count. It panics if the
// result would exceed MaxDoc.
func (c *CommitInfo) SetSoftDelCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDelCounts(c.delCount, n)
}

func (c *CommitInfo) setDelCounts(del, soft int) {
	if del < 0 || soft < 0 || del+soft > c.Info.MaxDoc {
		panic(errors.AssertionFailedf("segment %s: delCount=%d softDelCount=%d exceed maxDoc=%d",
			c.Info.Name, del, soft, c.Info.MaxDoc))
	}
	c.delCount = del
	c.softDelCount = soft
}

// BufferedDeletesGen returns the highest packet generation this segment has
// fully incorporated.
func (c *CommitInfo) BufferedDeletesGen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferedDeletesGen
}

// SetBufferedDeletesGen records that every packet up to gen is reflected.
func (c *CommitInfo) SetBufferedDeletesGen(gen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bufferedDeletesGen = gen
}

func (c *CommitInfo) String() string {
	s := c.State()
	return fmt.Sprintf("%s(maxDoc=%d del=%d soft=%d delGen=%d dvGen=%d bufGen=%d)",
		s.Name, s.MaxDoc, s.DelCount, s.SoftDelCount, s.DelGen, s.DocValuesGen, s.BufferedDeletesGen)
}
